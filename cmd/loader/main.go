// Command loader bulk-loads observations from a CSV file into a tsstore
// Store opened on a WAL path. It is a collaborator, not part of the core
// API contract: it opens its own Store, inserts through the no-log path
// (so loaded rows reach the in-memory Index only and are not written to
// the WAL), and reports counts of inserted, too-old-skipped and malformed
// rows.
package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"tsstore/store"
)

var (
	loadWALPath string
	loadCSVPath string
)

func main() {
	root := &cobra.Command{
		Use:   "loader",
		Short: "Bulk-load tagged observations from CSV into a tsstore store",
	}

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Load observations from a CSV file",
		RunE:  runLoad,
	}
	loadCmd.Flags().StringVar(&loadWALPath, "wal", "timeseries.log", "Path to the WAL file the store is opened on")
	loadCmd.Flags().StringVar(&loadCSVPath, "csv", "", "Path to the input CSV file (required)")
	_ = loadCmd.MarkFlagRequired("csv")

	root.AddCommand(loadCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	logger := log.NewLogfmtLogger(os.Stderr)

	f, err := os.Open(loadCSVPath)
	if err != nil {
		return fmt.Errorf("loader: open csv: %w", err)
	}
	defer f.Close()

	s := store.New(store.WithWALPath(loadWALPath), store.WithLogger(logger))
	if err := s.Initialize(); err != nil {
		return fmt.Errorf("loader: initialize store: %w", err)
	}
	defer s.Shutdown()

	inserted, skipped, malformed, err := loadCSV(s, f, logger)
	if err != nil {
		return err
	}

	fmt.Printf("inserted=%d too-old-skipped=%d malformed=%d\n", inserted, skipped, malformed)
	return nil
}

// loadCSV reads a header-bearing CSV whose first three columns are
// timestamp, metric and value and whose remaining columns are tag names.
// Each row is inserted via InsertWithoutLog; malformed rows are counted
// and skipped rather than aborting the load.
func loadCSV(s *store.Store, r io.Reader, logger log.Logger) (inserted, skipped, malformed int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("loader: read header: %w", err)
	}
	if len(header) < 3 {
		return 0, 0, 0, fmt.Errorf("loader: header must have at least 3 columns, got %d", len(header))
	}
	tagNames := header[3:]

	for {
		row, readErr := reader.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			malformed++
			level.Warn(logger).Log("msg", "skipping malformed csv row", "err", readErr)
			continue
		}

		obs, parseErr := parseRow(row, tagNames)
		if parseErr != nil {
			malformed++
			level.Warn(logger).Log("msg", "skipping malformed row", "err", parseErr)
			continue
		}

		if err := s.InsertWithoutLog(obs.timestamp, obs.metric, obs.value, obs.tags); err != nil {
			if err == store.ErrRetentionRejected {
				skipped++
				continue
			}
			malformed++
			level.Warn(logger).Log("msg", "skipping row rejected by store", "err", err)
			continue
		}
		inserted++
	}

	return inserted, skipped, malformed, nil
}

type parsedRow struct {
	timestamp int64
	metric    string
	value     float64
	tags      map[string]string
}

func parseRow(row []string, tagNames []string) (parsedRow, error) {
	if len(row) < 3 {
		return parsedRow{}, fmt.Errorf("row has %d columns, need at least 3", len(row))
	}

	ts, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return parsedRow{}, fmt.Errorf("bad timestamp %q: %w", row[0], err)
	}

	metric := row[1]
	if metric == "" {
		return parsedRow{}, fmt.Errorf("empty metric")
	}

	value, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return parsedRow{}, fmt.Errorf("bad value %q: %w", row[2], err)
	}

	var tags map[string]string
	for i, name := range tagNames {
		col := i + 3
		if col >= len(row) || row[col] == "" {
			continue
		}
		if tags == nil {
			tags = make(map[string]string, len(tagNames))
		}
		tags[name] = row[col]
	}

	return parsedRow{timestamp: ts, metric: metric, value: value, tags: tags}, nil
}
