// Command mboxsync-client drives one replication exchange: it diffs a set
// of local mailboxes against a remote mboxsync-server and pushes the
// resulting RECORD/File batches over the wire, the sending side of the
// protocol described by SPEC_FULL.md.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/replicon/mboxsync/config"
	"github.com/replicon/mboxsync/framework/exterrors"
	"github.com/replicon/mboxsync/log"
	"github.com/replicon/mboxsync/protocol"
	"github.com/replicon/mboxsync/reconcile"
	"github.com/replicon/mboxsync/replica"
	"github.com/replicon/mboxsync/store"
	"github.com/replicon/mboxsync/wire"
)

func main() {
	app := cli.NewApp()
	app.Name = "mboxsync-client"
	app.Usage = "run one mailbox replication exchange against a remote server"
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			cli.OsExiter(1)
		}
	}
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "config",
			Usage:   "mboxsync-client configuration file",
			EnvVars: []string{"MBOXSYNC_CONFIG"},
			Value:   "/etc/mboxsync/client.conf",
		},
		&cli.StringFlag{
			Name:     "remote",
			Usage:    "address of the mboxsync-server to sync against",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:  "mailbox",
			Usage: "mailbox name to sync (repeatable); if omitted, every mailbox the store lists is offered",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	settings, err := config.Load(c.Path("config"))
	if err != nil {
		return fmt.Errorf("mboxsync-client: %w", err)
	}
	logger := log.Logger{Name: "mboxsync-client", Debug: settings.Debug}

	ms := store.NewMemStore()
	metas, err := ms.ListMailboxes()
	if err != nil {
		return fmt.Errorf("mboxsync-client: listing mailboxes: %w", err)
	}
	names := c.StringSlice("mailbox")
	if len(names) == 0 {
		names = replica.CollectMailboxNames(metas).Names()
	}

	conn, err := net.Dial("tcp", c.String("remote"))
	if err != nil {
		return fmt.Errorf("mboxsync-client: dial %s: %w", c.String("remote"), err)
	}
	defer conn.Close()
	s := wire.NewStream(conn, conn)

	crc := replica.NewCRCNegotiator(settings.CRCMin, settings.CRCMax, settings.CRCStrict, ms.BestCRCVers)
	reserve := reconcile.NewMsgidList()

	for _, name := range names {
		result, err := replica.Diff(ms, name, nil, reserve, true, nil, crc)
		if err != nil {
			logger.Error("diffing mailbox", err, "mailbox", name)
			if !exterrors.IsTemporaryOrUnspec(err) {
				return fmt.Errorf("mboxsync-client: aborting run: %w", err)
			}
			continue
		}
		for _, upload := range result.Uploads {
			if err := protocol.SendUntagged(s, upload); err != nil {
				return fmt.Errorf("mboxsync-client: sending upload for %s: %w", name, err)
			}
		}
		if err := protocol.SendVerb(s, "APPLY", result.Meta); err != nil {
			return fmt.Errorf("mboxsync-client: sending APPLY for %s: %w", name, err)
		}
		if _, err := protocol.ReadReply(s, nil, 0); err != nil {
			logger.Error("remote rejected mailbox", err, "mailbox", name)
			if !exterrors.IsTemporaryOrUnspec(err) {
				return fmt.Errorf("mboxsync-client: aborting run: %w", err)
			}
			continue
		}
		logger.Msg("synced mailbox", "mailbox", name)
	}
	return nil
}
