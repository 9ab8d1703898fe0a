package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/junwei-lu/metercal/pkg/dlt645"
)

// NewFrameCommand is a bench debugging aid: it works on raw frames locally
// and never talks to the daemon.
func NewFrameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "frame",
		Short:   "Build or decode raw DL/T 645 frames",
		GroupID: gAdvanced,
		Long: `Build or decode raw DL/T 645 frames.

Useful when bringing up a new bench or sniffing a serial line. Frames are
handled locally; the daemon is not involved.`,
	}

	cmd.AddCommand(
		newFrameBuildCommand(),
		newFrameParseCommand(),
	)

	return cmd
}

func newFrameBuildCommand() *cobra.Command {
	var (
		diStr      string
		addrStr    string
		payloadHex string
		withAuth   bool
		read       bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a frame and print it as hex",
		Example: `  metercal frame build --di 00F81500 --auth
  metercal frame build --di 00F81600 --payload F05503000000 --auth`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			di, err := dlt645.ParseDI(diStr)
			if err != nil {
				return err
			}
			addr, err := dlt645.ParseAddress(addrStr)
			if err != nil {
				return err
			}
			payload, err := hex.DecodeString(payloadHex)
			if err != nil {
				return fmt.Errorf("invalid payload hex: %v", err)
			}

			control := byte(dlt645.CtrlWrite)
			if read {
				control = dlt645.CtrlRead
			}
			if withAuth {
				payload = dlt645.AppendAuth(payload)
			}

			f := dlt645.Build(di, payload, addr, control)
			cmd.Println(f.RawHex())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&diStr, "di", "", "data identifier, 8 hex digits (e.g. 00F81500)")
	f.StringVar(&addrStr, "address", "111111111111", "meter address, 12 decimal digits")
	f.StringVar(&payloadHex, "payload", "", "payload bytes as hex, before the protection trailer")
	f.BoolVar(&withAuth, "auth", false, "append the write-protection trailer")
	f.BoolVar(&read, "read", false, "build a read frame instead of a write")
	_ = cmd.MarkFlagRequired("di")

	return cmd
}

func newFrameParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <hex>",
		Short: "Decode a frame from hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid hex: %v", err)
			}

			f, err := dlt645.Parse(raw)
			if err != nil {
				return err
			}

			cmd.Printf("Address: %s\n", f.Address)
			cmd.Printf("Control: 0x%02X (response: %v)\n", f.Control, f.IsResponse())
			cmd.Printf("DI: %s\n", f.DI)
			cmd.Printf("Payload: %s\n", strings.ToUpper(hex.EncodeToString(f.Payload)))
			if body, ok := dlt645.StripAuth(f.Payload); ok {
				cmd.Printf("Payload without trailer: %s\n", strings.ToUpper(hex.EncodeToString(body)))
			}
			return nil
		},
	}
}
