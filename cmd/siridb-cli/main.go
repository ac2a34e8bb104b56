// Command siridb-cli is a minimal client: it opens a framed-packet
// connection to a siridbd instance, sends one query request,
// and renders whatever comes back as a table.
package main

import (
	"fmt"
	"net"
	"os"

	siridb "github.com/siridb/siridb-go"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	addr string
)

func main() {
	root := &cobra.Command{Use: "siridb-cli"}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9000", "server address")

	query := &cobra.Command{
		Use:   "query [statement]",
		Short: "send a query request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendAndPrint(siridb.ReqQuery, args[0])
		},
	}
	root.AddCommand(query)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func sendAndPrint(tp siridb.PkgType, payload interface{}) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	req, err := siridb.NewPkg(1, tp, payload)
	if err != nil {
		return err
	}
	if err := req.Encode(conn); err != nil {
		return err
	}

	resp, err := siridb.ReadPkg(conn, siridb.MaxClientPkgSize)
	if err != nil {
		return err
	}
	result, err := resp.Unpack()
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

// printResult renders a decoded payload as a two-column table when it is
// a map (the common "series name -> points/value" shape), or a single
// row otherwise. Headers are colored only when stdout is a real
// terminal, matching the corpus' color.NoColor-on-pipe convention.
func printResult(v interface{}) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
	header := color.New(color.Bold, color.FgCyan).SprintFunc()

	table := tablewriter.NewWriter(os.Stdout)
	switch m := v.(type) {
	case map[string]interface{}:
		table.SetHeader([]string{header("key"), header("value")})
		for k, val := range m {
			table.Append([]string{k, fmt.Sprintf("%v", val)})
		}
	default:
		table.SetHeader([]string{header("result")})
		table.Append([]string{fmt.Sprintf("%v", v)})
	}
	table.Render()
}
