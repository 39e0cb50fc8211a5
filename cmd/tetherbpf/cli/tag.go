package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tetherbpf/tetherbpf/netd"
)

// TagCmd tags a scratch TCP socket through a running daemon. It is an
// end-to-end smoke test of the tag path: socket creation, descriptor
// passing, the cookie map write. The tag is removed before exit unless
// --keep is given; with --keep the entry is left for the kernel's
// socket-release hook to clean up when the socket dies with this
// process.
type TagCmd struct {
	Tag       TagValue      `arg:"" help:"Tag to apply (decimal or 0x-prefixed hex)."`
	ChargeUid *uint32       `name:"charge-uid" help:"Account to this UID instead of the calling UID (requires privilege)."`
	Hold      time.Duration `help:"Keep the socket tagged for this long before exiting." default:"0s"`
	Keep      bool          `help:"Leave the tag entry in place on exit."`
}

// Run executes the tag command.
func (c *TagCmd) Run(cli *CLI) error {
	dirs, err := cli.RuntimeDirs()
	if err != nil {
		return err
	}

	client, err := netd.DialControl(dirs.SocketPath())
	if err != nil {
		return err
	}
	defer client.Close()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("create scratch socket: %w", err)
	}
	defer unix.Close(fd)

	if err := client.TagSocket(fd, c.Tag.Value, c.ChargeUid); err != nil {
		return fmt.Errorf("tag socket: %w", err)
	}

	msg := fmt.Sprintf("tagged scratch socket with 0x%x", c.Tag.Value)
	if count, err := client.TaggedSocketCount(); err == nil {
		msg = fmt.Sprintf("%s (%d tagged sockets)", msg, count)
	}
	if err := cli.PrintOut(msg + "\n"); err != nil {
		return err
	}

	if c.Hold > 0 {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		select {
		case <-time.After(c.Hold):
		case <-ctx.Done():
		}
	}

	if c.Keep {
		return nil
	}
	if err := client.UntagSocket(fd); err != nil {
		return fmt.Errorf("untag socket: %w", err)
	}
	return nil
}
