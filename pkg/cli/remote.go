package cli

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/boringtable/pkg/httputil"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

func newGetCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "get",
		Description: "Print the table served by a boringtable server",
		Flags:       flag.NewFlagSet("get", flag.ContinueOnError),
		Out:         out,
	}
	server := cmd.Flags.String("server", "http://localhost:8080", "Server URL")
	wait := cmd.Flags.Duration("wait", 0, "Wait up to this long for the next update")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		path := "/table"
		if *wait > 0 {
			path = "/table/wait?timeout=" + url.QueryEscape(wait.String())
		}
		return requestView(out, http.MethodGet, *server+path, nil)
	}
	return cmd
}

func newActionCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "action",
		Description: "Invoke a table action on a boringtable server",
		Flags:       flag.NewFlagSet("action", flag.ContinueOnError),
		Out:         out,
	}
	server := cmd.Flags.String("server", "http://localhost:8080", "Server URL")
	value := cmd.Flags.String("value", "", "Integer argument for actions such as setPage")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() != 1 {
			return fmt.Errorf("usage: action [-server url] [-value n] <name>")
		}
		name := cmd.Flags.Arg(0)

		var body io.Reader
		if *value != "" {
			n, err := strconv.Atoi(*value)
			if err != nil {
				return fmt.Errorf("value must be an integer: %w", err)
			}
			body = strings.NewReader(fmt.Sprintf(`{"value": %d}`, n))
		}
		return requestView(out, http.MethodPost, *server+"/table/actions/"+url.PathEscape(name), body)
	}
	return cmd
}

func requestView(out io.Writer, method, target string, body io.Reader) error {
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		_, err := fmt.Fprintln(out, "no update")
		return err
	case resp.StatusCode >= 400:
		var e httputil.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var v view
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("failed to decode table: %w", err)
	}
	return printView(out, v)
}
