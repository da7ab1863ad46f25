package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/utafrali/cartsync/internal/cartsync"
	"github.com/utafrali/cartsync/internal/domain"
)

var errQuit = errors.New("quit")

const usage = `commands:
  add <productId> [qty] [unitPrice] [name...]
  qty <productId> <qty>
  rm <productId>
  clear
  login | logout | refresh
  show
  quit`

// Console drives a Store from a line-oriented command stream.
type Console struct {
	store *cartsync.Store
	out   io.Writer
}

// NewConsole creates a console writing replies to out.
func NewConsole(store *cartsync.Store, out io.Writer) *Console {
	return &Console{store: store, out: out}
}

// Run executes commands from in until it is exhausted, ctx is done, or a
// quit command is read. Command errors are reported to out and do not stop
// the loop.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		err := c.Execute(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	return nil
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "add":
		if err := c.add(ctx, args); err != nil {
			return err
		}
	case "qty":
		if len(args) != 2 {
			return fmt.Errorf("usage: qty <productId> <qty>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
		c.store.UpdateQty(id, qty)
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm <productId>")
		}
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c.store.RemoveItem(ctx, id)
	case "clear":
		c.store.ClearCart(ctx)
	case "login":
		if err := c.store.Login(ctx); err != nil {
			return err
		}
	case "logout":
		c.store.Logout(ctx)
	case "refresh":
		if err := c.store.Refresh(ctx); err != nil {
			return err
		}
	case "show":
	case "help":
		fmt.Fprintln(c.out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}

	c.print(c.store.Snapshot())
	return nil
}

func (c *Console) add(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: add <productId> [qty] [unitPrice] [name...]")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	p := domain.Product{ProductID: id}
	qty := 1
	if len(args) > 1 {
		if qty, err = strconv.Atoi(args[1]); err != nil {
			return fmt.Errorf("invalid quantity %q", args[1])
		}
	}
	if len(args) > 2 {
		if p.UnitPrice, err = strconv.ParseInt(args[2], 10, 64); err != nil || p.UnitPrice < 0 {
			return fmt.Errorf("invalid price %q", args[2])
		}
	}
	if len(args) > 3 {
		p.Name = strings.Join(args[3:], " ")
	}
	c.store.AddItem(ctx, p, qty)
	return nil
}

func (c *Console) print(st domain.State) {
	fmt.Fprintf(c.out, "mode=%s items=%d subtotal=%d syncing=%t\n",
		st.Mode, st.TotalQuantity, st.Subtotal, st.IsSyncing)
	for _, line := range st.Lines {
		fmt.Fprintf(c.out, "  %d x%d %q @%d = %d\n",
			line.ProductID, line.Quantity, line.Name, line.UnitPrice, line.LineTotal())
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return id, nil
}
