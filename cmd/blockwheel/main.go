// Command blockwheel is a small inspection and scripting tool for a wheel
// file: write a block from stdin or an argument, read or delete one by id,
// stream every live block, or print usage and seek statistics.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	blockwheel "github.com/swizard0/blockwheel"
	"github.com/swizard0/blockwheel/internal/blockid"
)

var fileFlag = &cli.StringFlag{
	Name:     "file",
	Aliases:  []string{"f"},
	Usage:    "path to the wheel file",
	Required: true,
}

func main() {
	app := &cli.App{
		Name:  "blockwheel",
		Usage: "inspect and drive a single-file block storage wheel",
		Commands: []*cli.Command{
			writeCmd,
			readCmd,
			deleteCmd,
			iterateCmd,
			statCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "blockwheel:", err)
		os.Exit(1)
	}
}

func openWheel(c *cli.Context) (*blockwheel.Wheel, error) {
	return blockwheel.Open(c.String("file"), blockwheel.WithLogger(zap.NewNop()))
}

var writeCmd = &cli.Command{
	Name:      "write",
	Usage:     "write a block, reading its payload from stdin or an argument",
	ArgsUsage: "[payload]",
	Flags:     []cli.Flag{fileFlag},
	Action: func(c *cli.Context) error {
		var payload []byte
		if c.Args().Len() > 0 {
			payload = []byte(c.Args().First())
		} else {
			var err error
			payload, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read payload from stdin: %w", err)
			}
		}

		w, err := openWheel(c)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx := context.Background()
		id, err := w.Write(ctx, payload)
		if err != nil {
			return err
		}
		if err := w.Flush(ctx); err != nil {
			return err
		}
		fmt.Println(uint64(id))
		return nil
	},
}

var readCmd = &cli.Command{
	Name:      "read",
	Usage:     "print a block's payload to stdout",
	ArgsUsage: "<id>",
	Flags:     []cli.Flag{fileFlag},
	Action: func(c *cli.Context) error {
		id, err := parseBlockId(c)
		if err != nil {
			return err
		}

		w, err := openWheel(c)
		if err != nil {
			return err
		}
		defer w.Close()

		payload, err := w.Read(context.Background(), id)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(payload)
		return err
	},
}

var deleteCmd = &cli.Command{
	Name:      "delete",
	Usage:     "delete a block by id",
	ArgsUsage: "<id>",
	Flags:     []cli.Flag{fileFlag},
	Action: func(c *cli.Context) error {
		id, err := parseBlockId(c)
		if err != nil {
			return err
		}

		w, err := openWheel(c)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx := context.Background()
		if err := w.Delete(ctx, id); err != nil {
			return err
		}
		return w.Flush(ctx)
	},
}

var iterateCmd = &cli.Command{
	Name:  "iterate",
	Usage: "list every live block's id and payload length",
	Flags: []cli.Flag{fileFlag},
	Action: func(c *cli.Context) error {
		w, err := openWheel(c)
		if err != nil {
			return err
		}
		defer w.Close()

		return w.Iterate(context.Background(), func(id blockid.Id, payload []byte) error {
			fmt.Printf("%d\t%d\n", uint64(id), len(payload))
			return nil
		})
	},
}

var statCmd = &cli.Command{
	Name:  "stat",
	Usage: "print usage and interpreter seek statistics",
	Flags: []cli.Flag{fileFlag},
	Action: func(c *cli.Context) error {
		w, err := openWheel(c)
		if err != nil {
			return err
		}
		defer w.Close()

		ctx := context.Background()
		info, err := w.Info(ctx)
		if err != nil {
			return err
		}
		stats, err := w.InterpretStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("blocks:        %d\n", info.BlocksCount)
		fmt.Printf("wheel size:    %s\n", humanize.IBytes(info.WheelSizeBytes))
		fmt.Printf("service used:  %s\n", humanize.IBytes(info.ServiceBytesUsed))
		fmt.Printf("data used:     %s\n", humanize.IBytes(info.DataBytesUsed))
		fmt.Printf("bytes free:    %s\n", humanize.IBytes(info.BytesFree))
		fmt.Printf("seeks total:   %d\n", stats.CountTotal)
		fmt.Printf("seeks none:    %d\n", stats.CountNoSeek)
		fmt.Printf("seeks forward: %d\n", stats.CountSeekForward)
		fmt.Printf("seeks back:    %d\n", stats.CountSeekBackward)
		return nil
	},
}

func parseBlockId(c *cli.Context) (blockid.Id, error) {
	if c.Args().Len() < 1 {
		return 0, fmt.Errorf("missing required argument: id")
	}
	n, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id: %w", err)
	}
	return blockid.Id(n), nil
}
