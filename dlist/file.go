package dlist

import (
	"os"

	"github.com/replicon/mboxsync/framework/buffer"
	"github.com/replicon/mboxsync/guid"
)

func openPath(path string) (ReadCloser, error) {
	return os.Open(path)
}

// FileFromBuffer builds a File whose payload is supplied by an in-memory or
// re-stageable buffer.Buffer rather than a path on disk, for callers staging
// a message body before it has a final spool location (e.g. a freshly
// received upload awaiting placement).
func FileFromBuffer(partition string, g guid.GUID, buf buffer.Buffer) File {
	return File{
		Partition: partition,
		Guid:      g,
		Size:      int64(buf.Len()),
		Open:      func() (ReadCloser, error) { return buf.Open() },
	}
}
