package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/glasspoint/nags/internal/config"
)

// --- lookup ---

var lookupCmd = &cobra.Command{
	Use:   "lookup <vin>",
	Short: "Resolve glass parts for a vehicle",
	Long: `Resolve NAGS part numbers and prices for a vehicle.

Examples:
  nags lookup 1HGCM82633A004352 --positions windshield
  nags lookup 1HGCM82633A004352 --positions windshield,rear_windshield --urgency high
  nags lookup 1HGCM82633A004352 --positions front_driver --transaction TX-1042 --customer "J. Smith"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		positionsStr, _ := cmd.Flags().GetString("positions")
		urgency, _ := cmd.Flags().GetString("urgency")
		transaction, _ := cmd.Flags().GetString("transaction")
		customer, _ := cmd.Flags().GetString("customer")
		phone, _ := cmd.Flags().GetString("phone")
		asJSON, _ := cmd.Flags().GetBool("json")

		if positionsStr == "" {
			return fmt.Errorf("--positions is required")
		}
		positions := strings.Split(positionsStr, ",")
		for i := range positions {
			positions[i] = strings.TrimSpace(positions[i])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"vin":       args[0],
			"positions": positions,
		}
		if urgency != "" {
			req["urgency"] = urgency
		}
		if transaction != "" {
			req["transaction_id"] = transaction
		}
		if customer != "" {
			req["customer_name"] = customer
		}
		if phone != "" {
			req["customer_phone"] = phone
		}

		resp, err := client.post(cmd.Context(), "/lookup", req)
		if err != nil {
			return err
		}

		var out lookupOutcome
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		printLookupOutcome(out)
		return nil
	},
}

type lookupOutcome struct {
	Success bool `json:"success"`
	Vehicle struct {
		VIN   string `json:"vin"`
		Year  int    `json:"year"`
		Make  string `json:"make"`
		Model string `json:"model"`
		Trim  string `json:"trim"`
	} `json:"vehicle"`
	Parts []struct {
		NAGSPartNumber      string   `json:"nags_part_number"`
		AlternatePartNumber string   `json:"alternate_part_number"`
		Position            string   `json:"position"`
		Features            []string `json:"features"`
		Price               *struct {
			Cents  int64  `json:"cents"`
			Source string `json:"source"`
		} `json:"price"`
		Source string `json:"source"`
	} `json:"parts"`
	ResolvedTier    map[string]string `json:"resolved_tier_per_position"`
	ResolvedSource  map[string]string `json:"resolved_source_per_position"`
	EscalationIDs   []string          `json:"escalation_ids"`
	TotalDurationMs int64             `json:"total_duration_ms"`
	Cached          bool              `json:"cached"`
}

func printLookupOutcome(out lookupOutcome) {
	v := out.Vehicle
	vehicleLabel := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if v.Trim != "" {
		vehicleLabel += " " + v.Trim
	}
	fmt.Printf("%s  %s\n", colorize(colorBold, vehicleLabel), v.VIN)

	for _, p := range out.Parts {
		price := "no price"
		if p.Price != nil {
			price = fmt.Sprintf("$%d.%02d", p.Price.Cents/100, p.Price.Cents%100)
		}
		line := fmt.Sprintf("  %-22s %-10s %s", p.Position, p.NAGSPartNumber, price)
		if len(p.Features) > 0 {
			line += "  [" + strings.Join(p.Features, ", ") + "]"
		}
		fmt.Printf("%s  (%s)\n", line, out.ResolvedSource[p.Position])
	}

	for pos, tier := range out.ResolvedTier {
		if tier == "manual" {
			fmt.Printf("  %-22s %s\n", pos, colorize(colorYellow, "queued for research"))
		}
	}

	if len(out.EscalationIDs) > 0 {
		printWarning("%d position(s) escalated for human research", len(out.EscalationIDs))
	}
	fmt.Printf("  %s %dms", colorize(colorBold, "took:"), out.TotalDurationMs)
	if out.Cached {
		fmt.Print("  (decode cached)")
	}
	fmt.Println()
}

func init() {
	lookupCmd.Flags().String("positions", "", "comma-separated glass positions (e.g. windshield,rear_windshield)")
	lookupCmd.Flags().String("urgency", "", "escalation urgency: low, normal, high, urgent")
	lookupCmd.Flags().String("transaction", "", "transaction ID to attach to escalations")
	lookupCmd.Flags().String("customer", "", "customer name for escalation follow-up")
	lookupCmd.Flags().String("phone", "", "customer phone for escalation follow-up")
	lookupCmd.Flags().Bool("json", false, "print the raw JSON outcome")
}

// --- escalations ---

var escalationsCmd = &cobra.Command{
	Use:   "escalations",
	Short: "Inspect the manual research queue",
}

var escalationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List escalation records",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/escalations?status=%s&limit=%d", status, limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var records []struct {
			ID        string `json:"id"`
			VIN       string `json:"vin"`
			Position  string `json:"position"`
			Year      int    `json:"year"`
			Make      string `json:"make"`
			Model     string `json:"model"`
			Urgency   string `json:"urgency"`
			Status    string `json:"status"`
			CreatedAt string `json:"created_at"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No escalations found.")
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%s  %s  %d %s %s  %-22s %-7s %s\n",
				colorize(colorCyan, rec.ID[:8]),
				rec.CreatedAt,
				rec.Year, rec.Make, rec.Model,
				rec.Position,
				rec.Urgency,
				rec.Status,
			)
		}
		return nil
	},
}

var escalationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single escalation record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/escalations/"+args[0])
		if err != nil {
			return err
		}

		var record any
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

func init() {
	escalationsListCmd.Flags().String("status", "pending", "filter by status (empty for all)")
	escalationsListCmd.Flags().Int("limit", 50, "maximum number of records to list")
	escalationsCmd.AddCommand(escalationsListCmd)
	escalationsCmd.AddCommand(escalationsShowCmd)
}

// --- credentials ---

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage distributor portal credentials",
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add <distributor>",
	Short: "Add or replace a distributor credential",
	Long: `Add or replace a distributor credential.

The password is read from the terminal (or from stdin when piped) and is
never passed as a command-line argument.

Examples:
  nags credentials add pilkington --username shopuser
  nags credentials add pgw --username shopuser --login-url https://portal.pgw.example`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		loginURL, _ := cmd.Flags().GetString("login-url")

		if username == "" {
			return fmt.Errorf("--username is required")
		}

		password, err := readPassword()
		if err != nil {
			return err
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"distributor": args[0],
			"username":    username,
			"password":    password,
		}
		if loginURL != "" {
			req["login_url"] = loginURL
		}

		resp, err := client.post(cmd.Context(), "/credentials", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Credential saved for %s", result["distributor"])
		return nil
	},
}

func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Password: ")
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(data), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return line, nil
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials (passwords elided)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/credentials")
		if err != nil {
			return err
		}

		var creds []struct {
			Distributor string `json:"distributor"`
			LoginURL    string `json:"login_url"`
			Username    string `json:"username"`
			Active      bool   `json:"active"`
		}
		if err := decodeJSON(resp, &creds); err != nil {
			return err
		}

		if len(creds) == 0 {
			fmt.Println("No credentials stored.")
			return nil
		}

		for _, c := range creds {
			state := colorize(colorGreen, "active")
			if !c.Active {
				state = colorize(colorYellow, "disabled")
			}
			fmt.Printf("%-12s %-20s %s\n", c.Distributor, c.Username, state)
		}
		return nil
	},
}

func setCredentialActive(cmd *cobra.Command, name string, active bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.patch(cmd.Context(), "/credentials/"+name, map[string]any{"active": active})
	if err != nil {
		return err
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	if active {
		printSuccess("Enabled credential for %s", name)
	} else {
		printSuccess("Disabled credential for %s", name)
	}
	return nil
}

var credentialsEnableCmd = &cobra.Command{
	Use:   "enable <distributor>",
	Short: "Enable a stored credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCredentialActive(cmd, args[0], true)
	},
}

var credentialsDisableCmd = &cobra.Command{
	Use:   "disable <distributor>",
	Short: "Disable a stored credential without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setCredentialActive(cmd, args[0], false)
	},
}

func init() {
	credentialsAddCmd.Flags().String("username", "", "portal username")
	credentialsAddCmd.Flags().String("login-url", "", "portal login URL override")
	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsEnableCmd)
	credentialsCmd.AddCommand(credentialsDisableCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
