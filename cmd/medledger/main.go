package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/medledger/medledger/internal/identity"
	"github.com/medledger/medledger/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerURL string
	cfgFile   string
	apiKey    string
	writer    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medledger",
	Short: "MedLedger CLI",
	Long: `medledger is the command-line interface for a MedLedger service.

It appends medical records to the tamper-evident chain, queries and
exports stored records, and verifies chain integrity.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.medledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = "http://localhost:8080"
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
		if writer == "" {
			writer = viper.GetString("writer")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.medledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "MedLedger service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for write operations")
	rootCmd.PersistentFlags().StringVar(&writer, "writer", "", "Writer name recorded in token claims")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds the SDK client with whatever credentials are configured.
func newClient() (*client.Client, error) {
	opts := []client.Option{}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey, writer))
	} else if token := viper.GetString("token"); token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(ledgerURL, opts...)
}

// ── add ──────────────────────────────────────────────────────────────────────

var (
	addPatientID string
	addName      string
	addAge       int
	addDiagnosis string
	addTreatment string
	addDoctor    string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a medical record to the chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		receipt, err := c.AddRecord(context.Background(), client.Record{
			PatientID:   addPatientID,
			PatientName: addName,
			Age:         addAge,
			Diagnosis:   addDiagnosis,
			Treatment:   addTreatment,
			Doctor:      addDoctor,
		})
		if err != nil {
			return fmt.Errorf("add record: %w", err)
		}

		fmt.Printf("✓ Record sealed into block %d\n\n", receipt.Index)
		fmt.Printf("  Receipt:     %s\n", receipt.ReceiptID)
		fmt.Printf("  Fingerprint: %s\n", receipt.Fingerprint)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addPatientID, "patient-id", "", "Patient identifier (e.g. P001)")
	addCmd.Flags().StringVar(&addName, "name", "", "Patient name")
	addCmd.Flags().IntVar(&addAge, "age", 0, "Patient age")
	addCmd.Flags().StringVar(&addDiagnosis, "diagnosis", "", "Diagnosis")
	addCmd.Flags().StringVar(&addTreatment, "treatment", "", "Treatment")
	addCmd.Flags().StringVar(&addDoctor, "doctor", "", "Attending doctor")

	_ = addCmd.MarkFlagRequired("patient-id")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("diagnosis")
	_ = addCmd.MarkFlagRequired("treatment")
	_ = addCmd.MarkFlagRequired("doctor")
}

// ── records ──────────────────────────────────────────────────────────────────

var (
	recordsPatient string
	recordsFormat  string
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List stored records, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		projections, err := c.Records(context.Background(), recordsPatient)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}

		if recordsFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(projections)
		}

		if len(projections) == 0 {
			fmt.Println("No records stored.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BLOCK\tPATIENT\tNAME\tAGE\tDIAGNOSIS\tDOCTOR")
		for _, p := range projections {
			fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
				p["block_index"], p["patient_id"], p["patient_name"],
				p["age"], p["diagnosis"], p["doctor"],
			)
		}
		return w.Flush()
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsPatient, "patient", "", "Filter to one patient id")
	recordsCmd.Flags().StringVar(&recordsFormat, "format", "text", "Output format: text or json")
}

// ── search ───────────────────────────────────────────────────────────────────

var searchCmd = &cobra.Command{
	Use:   "search <patient-id>",
	Short: "List all records for one patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recordsPatient = args[0]
		return recordsCmd.RunE(cmd, nil)
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the full chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		issues, err := c.Verify(context.Background())
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		if len(issues) == 0 {
			fmt.Println("✓ Chain intact — every block verified")
			return nil
		}

		fmt.Printf("✗ Chain FAILED verification with %d issue(s):\n\n", len(issues))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BLOCK\tISSUE")
		for _, issue := range issues {
			fmt.Fprintf(w, "%d\t%s\n", issue.Index, issue.Problem)
		}
		w.Flush() //nolint:errcheck
		return fmt.Errorf("chain invalid")
	},
}

// ── info ─────────────────────────────────────────────────────────────────────

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show chain statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		ctx := context.Background()
		stats, err := c.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		tip, err := c.Latest(ctx)
		if err != nil {
			return fmt.Errorf("latest block: %w", err)
		}

		fmt.Printf("Service:  %s\n", ledgerURL)
		fmt.Printf("Blocks:   %d\n", stats.Blocks)
		fmt.Printf("Records:  %d\n", stats.Records)
		fmt.Printf("Valid:    %t\n", stats.Valid)
		fmt.Printf("Tip:      #%d %s\n", tip.Index, tip.Fingerprint)
		return nil
	},
}

// ── block ────────────────────────────────────────────────────────────────────

var blockCmd = &cobra.Command{
	Use:   "block <index>",
	Short: "Show one block in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var idx int
		if _, err := fmt.Sscanf(args[0], "%d", &idx); err != nil {
			return fmt.Errorf("index must be an integer: %q", args[0])
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		block, err := c.Block(context.Background(), idx)
		if err != nil {
			return fmt.Errorf("get block: %w", err)
		}

		out, _ := json.MarshalIndent(block, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

// ── export ───────────────────────────────────────────────────────────────────

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all records as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		out := os.Stdout
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOut, err)
			}
			defer f.Close()
			out = f
		}

		if err := c.ExportCSV(context.Background(), out); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if exportOut != "" {
			fmt.Printf("✓ Records written to %s\n", exportOut)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output file (default stdout)")
}

// ── snapshot ─────────────────────────────────────────────────────────────────

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import the full chain",
	Long: `snapshot moves the entire block sequence between services.

Export writes the chain as JSON; import verifies the posted chain and
replaces the service's live chain with it. The service rejects any
snapshot that fails integrity verification.`,
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Download the chain as a JSON snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		snap, err := c.ExportSnapshot(context.Background())
		if err != nil {
			return fmt.Errorf("export snapshot: %w", err)
		}

		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}

		if len(args) == 1 {
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", args[0], err)
			}
			fmt.Printf("✓ %d block(s) written to %s\n", len(snap.Blocks), args[0])
			return nil
		}
		fmt.Println(string(data))
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upload a snapshot, replacing the service's chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var snap client.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parse snapshot: %w", err)
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		stats, err := c.ImportSnapshot(context.Background(), snap)
		if err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}

		fmt.Printf("✓ Chain replaced: %d block(s), %d record(s), valid=%t\n",
			stats.Blocks, stats.Records, stats.Valid)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the API key for a writer token",
	Long: `token performs the API-key exchange and prints the resulting JWT.

Store it under "token:" in ~/.medledger/config.yaml to avoid re-sending
the API key on every command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if apiKey == "" {
			return fmt.Errorf("an API key is required: set --api-key or api_key in the config file")
		}

		c, err := newClient()
		if err != nil {
			return err
		}

		token, err := c.FetchToken(context.Background())
		if err != nil {
			return fmt.Errorf("fetch token: %w", err)
		}

		fmt.Println(token)
		return nil
	},
}

// ── hash-key ─────────────────────────────────────────────────────────────────

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <api-key>",
	Short: "Print the bcrypt hash of an API key for service configuration",
	Long: `hash-key produces the value for auth.api_key_hash in ledgerd.yaml.

The service stores only the hash; the cleartext key is handed to writers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := identity.HashAPIKey(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the medledger CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("medledger %s\n", version)
	},
}
