package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/logging"
	"github.com/imerljak/flow-craft-sub001/pkg/store"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the traffic log",
	Example: `  flowcraft logs --host api.test --limit 20
  flowcraft logs --mocked
  flowcraft logs --curl 42
  flowcraft logs events --where data.rule_id=r-123`,
	RunE: runLogs,
}

var logsEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Filter raw JSONL traffic events",
	RunE:  runLogsEvents,
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all indexed traffic records",
	RunE:  runLogsClear,
}

func init() {
	logsCmd.Flags().String("host", "", "Filter by host")
	logsCmd.Flags().String("rule", "", "Filter by matched rule ID")
	logsCmd.Flags().String("method", "", "Filter by HTTP method")
	logsCmd.Flags().Bool("mocked", false, "Only mocked requests")
	logsCmd.Flags().Bool("blocked", false, "Only blocked requests")
	logsCmd.Flags().Int("limit", 50, "Maximum records")
	logsCmd.Flags().Int("offset", 0, "Records to skip")
	logsCmd.Flags().Uint("curl", 0, "Render one record as a curl command")

	logsEventsCmd.Flags().StringArray("where", nil, "Event filter path=value (can be repeated)")
	logsEventsCmd.Flags().Int("limit", 0, "Stop after N matching events (0 = all)")

	logsCmd.AddCommand(logsEventsCmd, logsClearCmd)
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if id, _ := cmd.Flags().GetUint("curl"); id > 0 {
		return renderCurl(cmd, st, id)
	}

	q := store.TrafficQuery{}
	q.Host, _ = cmd.Flags().GetString("host")
	q.RuleID, _ = cmd.Flags().GetString("rule")
	q.Method, _ = cmd.Flags().GetString("method")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	q.Offset, _ = cmd.Flags().GetInt("offset")
	if v, _ := cmd.Flags().GetBool("mocked"); v {
		q.Mocked = &v
	}
	if v, _ := cmd.Flags().GetBool("blocked"); v {
		q.Blocked = &v
	}

	recs, err := st.ListTraffic(cmd.Context(), q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tADAPTER\tMETHOD\tSTATUS\tEFFECT\tURL")
	for _, r := range recs {
		status := "-"
		if r.StatusCode > 0 {
			status = strconv.Itoa(r.StatusCode)
		}
		effect := r.Effect
		if effect == "" {
			effect = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.At.Format(time.TimeOnly), r.Adapter, r.Method, status, effect, r.URL)
	}
	return w.Flush()
}

func renderCurl(cmd *cobra.Command, st *store.Store, id uint) error {
	rec, err := st.GetTraffic(cmd.Context(), id)
	if err != nil {
		return err
	}
	headers := map[string][]string{}
	if rec.ReqHeaders != "" {
		_ = json.Unmarshal([]byte(rec.ReqHeaders), &headers)
	}
	fmt.Println(logging.AsCurl(rec.Method, rec.URL, headers, []byte(rec.ReqBody)))
	return nil
}

func runLogsEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := filepath.Join(cfg.Log.GetDir(cfg.GetDataDir()), "events.jsonl")
	f, err := os.Open(path)
	if err != nil {
		return errx.Wrap(ErrOpenLogFile, err)
	}
	defer f.Close()

	type filter struct{ path, value string }
	var filters []filter
	wheres, _ := cmd.Flags().GetStringArray("where")
	for _, expr := range wheres {
		p, v, ok := strings.Cut(expr, "=")
		if !ok || p == "" {
			return errx.With(ErrInvalidSetExpr, ": %q", expr)
		}
		filters = append(filters, filter{path: p, value: v})
	}
	limit, _ := cmd.Flags().GetInt("limit")

	matched := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}
		keep := true
		for _, flt := range filters {
			if gjson.GetBytes(line, flt.path).String() != flt.value {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		os.Stdout.Write(line)
		fmt.Println()
		matched++
		if limit > 0 && matched >= limit {
			break
		}
	}
	return scanner.Err()
}

func runLogsClear(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.ClearTraffic(cmd.Context())
}
