// Package log re-exports framework/log under mboxsync's top-level import
// path, the way a teacher-adjacent consumer package would: every
// component's Logger field type and the package-level helpers are type and
// func aliases, so callers write "log.Logger" and "log.DefaultLogger"
// without reaching into framework/ directly.
package log

import flog "github.com/replicon/mboxsync/framework/log"

type (
	Logger       = flog.Logger
	Output       = flog.Output
	LogFormatter = flog.LogFormatter
)

var (
	DefaultLogger = flog.DefaultLogger

	MultiOutput       = flog.MultiOutput
	FuncOutput        = flog.FuncOutput
	WriterOutput      = flog.WriterOutput
	WriteCloserOutput = flog.WriteCloserOutput
	SyslogOutput      = flog.SyslogOutput
)

// NopOutput discards everything written to it.
type NopOutput = flog.NopOutput
