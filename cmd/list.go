package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/voucherscan/internal/types"
	"github.com/andresmejia3/voucherscan/internal/utils"
	"github.com/spf13/cobra"
)

var (
	listVideo string
	listScans bool
)

var listCmd = &cobra.Command{
	Use:         "list",
	Short:       "List voucher codes (or scans) saved with scan --store",
	Annotations: map[string]string{needsDB: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()
		if listScans {
			scans, err := DB.ListScans(ctx)
			if err != nil {
				return fmt.Errorf("failed to list scans: %w", err)
			}
			printScans(os.Stdout, scans)
			return nil
		}
		codes, err := DB.ListCodes(ctx, listVideo)
		if err != nil {
			return fmt.Errorf("failed to list codes: %w", err)
		}
		printCodeRecords(os.Stdout, codes)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listVideo, "video", "", "Only show codes for this video ID")
	listCmd.Flags().BoolVar(&listScans, "scans", false, "Show scan history instead of codes")
	rootCmd.AddCommand(listCmd)
}

func printCodeRecords(out io.Writer, codes []types.CodeRecord) {
	if len(codes) == 0 {
		fmt.Fprintln(out, "No codes found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CODE\tFIRST SEEN\tVIDEO\tSOURCE\tSCANNED")
	fmt.Fprintln(w, "----\t----------\t-----\t------\t-------")

	for _, c := range codes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			c.Code, utils.FormatTimestamp(c.FirstSeen), shortID(c.VideoID), c.Source,
			c.ScannedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printScans(out io.Writer, scans []types.ScanRecord) {
	if len(scans) == 0 {
		fmt.Fprintln(out, "No scans found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "SCAN\tVIDEO\tREAD\tSAMPLED\tFAILED\tSOURCE\tSCANNED")
	fmt.Fprintln(w, "----\t-----\t----\t-------\t------\t------\t-------")

	for _, s := range scans {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			shortID(s.ID), shortID(s.VideoID), s.FramesRead, s.FramesSampled, s.FramesFailed, s.Source,
			s.ScannedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
