// Command cc-dispatch-accounts manages the on-disk account pool the
// dispatcher reads from: add, list, enable/disable, and remove accounts
// without needing the server running. The OAuth interactive browser flow
// is out of scope (see SPEC_FULL.md) — "add oauth" expects an
// already-obtained refresh token to be pasted in, the way operators import
// tokens captured elsewhere.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/relaycc/cc-dispatch/internal/auth"
	"github.com/relaycc/cc-dispatch/internal/config"
	"github.com/relaycc/cc-dispatch/internal/store"
)

func main() {
	args := os.Args[1:]
	command := "help"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		command = args[0]
		args = args[1:]
	}

	configPath := os.Getenv("ANTIGRAVITY_ACCOUNT_CONFIG_PATH")
	if configPath == "" {
		configPath = config.Default().AccountConfigPath
	}
	for i, a := range args {
		if strings.HasPrefix(a, "--config=") {
			configPath = strings.TrimPrefix(a, "--config=")
			args = append(args[:i], args[i+1:]...)
			break
		}
	}

	st := store.NewJSONStore(configPath)
	scanner := bufio.NewScanner(os.Stdin)

	printBanner(configPath)

	switch command {
	case "add":
		cmdAdd(st, scanner)
	case "list":
		cmdList(st)
	case "enable":
		cmdSetEnabled(st, args, true)
	case "disable":
		cmdSetEnabled(st, args, false)
	case "remove", "rm":
		cmdRemove(st, args)
	case "verify":
		cmdVerify(st)
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
	}
}

func printBanner(configPath string) {
	fmt.Println("cc-dispatch accounts")
	fmt.Printf("  store: %s\n\n", configPath)
}

func printHelp() {
	fmt.Println("Usage:")
	fmt.Println("  cc-dispatch-accounts add                Add a new account (interactive)")
	fmt.Println("  cc-dispatch-accounts list                List all accounts")
	fmt.Println("  cc-dispatch-accounts enable <email>      Re-enable an account")
	fmt.Println("  cc-dispatch-accounts disable <email>     Disable an account")
	fmt.Println("  cc-dispatch-accounts remove <email>      Remove an account")
	fmt.Println("  cc-dispatch-accounts verify               Test every account's credentials")
	fmt.Println("  cc-dispatch-accounts help                 Show this help")
	fmt.Println("\nOptions:")
	fmt.Println("  --config=<path>   Override the accounts.json path")
}

func prompt(scanner *bufio.Scanner, message string) string {
	fmt.Print(message)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func cmdAdd(st *store.JSONStore, scanner *bufio.Scanner) {
	cfg, err := st.Load()
	if err != nil {
		fmt.Println("Error loading accounts:", err)
		return
	}
	if len(cfg.Accounts) >= config.MaxAccounts {
		fmt.Printf("Maximum of %d accounts reached.\n", config.MaxAccounts)
		return
	}

	email := prompt(scanner, "Email: ")
	if email == "" {
		fmt.Println("Email is required.")
		return
	}
	for _, acc := range cfg.Accounts {
		if acc.Email == email {
			fmt.Printf("Account %s already exists.\n", email)
			return
		}
	}

	source := strings.ToLower(prompt(scanner, "Source [oauth/manual/legacy-db] (oauth): "))
	if source == "" {
		source = "oauth"
	}

	acc := store.Account{Email: email, Enabled: true, AddedAt: time.Now()}

	switch store.Source(source) {
	case store.SourceOAuth:
		acc.Source = store.SourceOAuth
		acc.RefreshToken = prompt(scanner, "Refresh token (refreshToken|projectId|managedProjectId): ")
		if acc.RefreshToken == "" {
			fmt.Println("A refresh token is required for an oauth account.")
			return
		}
	case store.SourceManual:
		acc.Source = store.SourceManual
		acc.APIKey = prompt(scanner, "API key: ")
		if acc.APIKey == "" {
			fmt.Println("An API key is required for a manual account.")
			return
		}
	case store.SourceLegacyDB:
		acc.Source = store.SourceLegacyDB
		acc.DBPath = prompt(scanner, "Path to the Antigravity IDE's state.vscdb: ")
		if !store.LegacyDBAccessible(acc.DBPath) {
			fmt.Println("Could not open that database. Double-check the path.")
			return
		}
	default:
		fmt.Println("Unknown source:", source)
		return
	}

	if projectID := prompt(scanner, "Explicit project id (optional, press enter to auto-discover): "); projectID != "" {
		acc.ProjectID = projectID
	}

	cfg.Accounts = append(cfg.Accounts, acc)
	if err := st.Save(cfg); err != nil {
		fmt.Println("Error saving account:", err)
		return
	}
	fmt.Printf("\nSaved account %s (%s).\n", acc.Email, acc.Source)
}

func cmdList(st *store.JSONStore) {
	cfg, err := st.Load()
	if err != nil {
		fmt.Println("Error loading accounts:", err)
		return
	}
	if len(cfg.Accounts) == 0 {
		fmt.Println("No accounts configured.")
		return
	}
	fmt.Printf("%d account(s):\n", len(cfg.Accounts))
	for i, acc := range cfg.Accounts {
		status := "ok"
		switch {
		case acc.Invalid:
			status = "invalid: " + acc.InvalidReason
		case !acc.Enabled:
			status = "disabled"
		}
		marker := " "
		if i == cfg.ActiveIndex {
			marker = "*"
		}
		fmt.Printf("  %s %d. %-32s [%s] %s\n", marker, i+1, acc.Email, acc.Source, status)
		for model, rl := range acc.ModelRateLimits {
			if rl.IsRateLimited {
				fmt.Printf("        rate-limited on %s until %s\n", model, time.UnixMilli(rl.ResetTime).Format(time.RFC3339))
			}
		}
	}
}

func cmdSetEnabled(st *store.JSONStore, args []string, enabled bool) {
	if len(args) == 0 {
		fmt.Println("Usage: cc-dispatch-accounts enable|disable <email>")
		return
	}
	email := args[0]
	if err := st.UpdateAccount(email, func(a *store.Account) {
		a.Enabled = enabled
		if enabled {
			a.Invalid = false
			a.InvalidReason = ""
		}
	}); err != nil {
		fmt.Println("Error:", err)
		return
	}
	verb := "Enabled"
	if !enabled {
		verb = "Disabled"
	}
	fmt.Printf("%s %s.\n", verb, email)
}

func cmdRemove(st *store.JSONStore, args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: cc-dispatch-accounts remove <email>")
		return
	}
	email := args[0]
	cfg, err := st.Load()
	if err != nil {
		fmt.Println("Error loading accounts:", err)
		return
	}
	kept := cfg.Accounts[:0]
	found := false
	for _, acc := range cfg.Accounts {
		if acc.Email == email {
			found = true
			continue
		}
		kept = append(kept, acc)
	}
	if !found {
		fmt.Printf("No account %s found.\n", email)
		return
	}
	cfg.Accounts = kept
	if cfg.ActiveIndex >= len(cfg.Accounts) {
		cfg.ActiveIndex = 0
	}
	if err := st.Save(cfg); err != nil {
		fmt.Println("Error saving accounts:", err)
		return
	}
	fmt.Printf("Removed %s.\n", email)
}

func cmdVerify(st *store.JSONStore) {
	cfg, err := st.Load()
	if err != nil {
		fmt.Println("Error loading accounts:", err)
		return
	}
	if len(cfg.Accounts) == 0 {
		fmt.Println("No accounts to verify.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, acc := range cfg.Accounts {
		switch acc.Source {
		case store.SourceOAuth:
			if _, err := auth.RefreshAccessToken(ctx, acc.Email, acc.RefreshToken); err != nil {
				fmt.Printf("  FAIL %s - %v\n", acc.Email, err)
				continue
			}
			fmt.Printf("  OK   %s\n", acc.Email)
		case store.SourceManual:
			if acc.APIKey == "" {
				fmt.Printf("  FAIL %s - no api key configured\n", acc.Email)
				continue
			}
			fmt.Printf("  OK   %s (manual, not re-verified against backend)\n", acc.Email)
		case store.SourceLegacyDB:
			if !store.LegacyDBAccessible(acc.DBPath) {
				fmt.Printf("  FAIL %s - legacy db not accessible at %s\n", acc.Email, acc.DBPath)
				continue
			}
			fmt.Printf("  OK   %s (legacy-db)\n", acc.Email)
		default:
			fmt.Printf("  FAIL %s - unknown source %q\n", acc.Email, acc.Source)
		}
	}
}
