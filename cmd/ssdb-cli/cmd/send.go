package cmd

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gallir/smart-ssdb/ssdb/cluster"
	"github.com/gallir/smart-ssdb/ssdb/protocol"
)

var (
	writeFlag  bool
	serverFlag string
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [args...]",
	Short: "Send a command and print the response",
	Long: `Send a command to the cluster owning its first argument.

Write commands go to a master, the known ones are detected and --write
forces it for the rest. With --server the command goes to that server only,
without failover.

Examples:
  ssdb-cli send get user:1
  ssdb-cli send set user:1 alice
  ssdb-cli send --server 10.0.0.1:8888 dbsize`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().BoolVarP(&writeFlag, "write", "w", false, "Send to a master")
	sendCmd.Flags().StringVarP(&serverFlag, "server", "s", "", "Send to this host:port only")
}

type sendOutput struct {
	Status string   `json:"status"`
	Body   []string `json:"body"`
	Error  string   `json:"error,omitempty"`
}

func runSend(cmd *cobra.Command, args []string) error {
	tokens := make([]interface{}, len(args))
	for i, a := range args {
		tokens[i] = a
	}

	ctx, cancel := getContext()
	defer cancel()

	var resp *protocol.Response
	var err error
	if serverFlag != "" {
		s, perr := findServer(serverFlag)
		if perr != nil {
			return perr
		}
		resp, err = ssdbClient.SendTo(ctx, s, tokens...)
	} else {
		req, rerr := protocol.NewRequest(tokens...)
		if rerr != nil {
			return rerr
		}
		req.Write = writeFlag || protocol.IsWriteCommand(req.Command())
		resp, err = ssdbClient.SendRequest(ctx, req)
	}

	var se *protocol.ServerError
	if err != nil && !errors.As(err, &se) {
		return err
	}
	if perr := printResponse(cmd, resp); perr != nil {
		return perr
	}
	return err
}

func printResponse(cmd *cobra.Command, resp *protocol.Response) error {
	w := cmd.OutOrStdout()
	if outputFlag == "json" {
		out := sendOutput{Status: resp.Status(), Body: make([]string, len(resp.Body))}
		for i, b := range resp.Body {
			out.Body[i] = string(b)
		}
		if err := resp.Check(); err != nil {
			out.Error = err.Error()
		}
		return printJSON(w, out)
	}

	fmt.Fprintln(w, resp.Status())
	for _, b := range resp.Body {
		fmt.Fprintln(w, string(b))
	}
	return nil
}

// findServer returns the configured server with that address, so its
// password and timeouts are used, or a new one
func findServer(addr string) (*cluster.Server, error) {
	host, p, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return nil, fmt.Errorf("bad port in %s", addr)
	}

	target := cluster.NewServer(host, port)
	for _, c := range ssdbClient.Ring().Clusters() {
		for _, s := range c.Servers() {
			if s.Equal(target) {
				return s, nil
			}
		}
	}
	return target, nil
}
