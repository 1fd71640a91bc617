package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/policy"
	"github.com/ppiankov/popwatch/internal/prefs"
)

var (
	checkPage    string
	checkKind    string
	checkHref    string
	checkTarget  string
	checkTrusted bool
	checkMeta    bool
	checkDB      string
	checkFormat  string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkPage, "page", "", "URL of the page the action happens on (required)")
	checkCmd.Flags().StringVar(&checkKind, "kind", string(model.ElementActivation), "Event kind (element.click|window.open)")
	checkCmd.Flags().StringVar(&checkHref, "href", "", "Destination URL")
	checkCmd.Flags().StringVar(&checkTarget, "target", "", "Link target or window name (e.g., _blank)")
	checkCmd.Flags().BoolVar(&checkTrusted, "trusted", false, "Treat the event as a real user gesture")
	checkCmd.Flags().BoolVar(&checkMeta, "meta", false, "Meta key held")
	checkCmd.Flags().StringVar(&checkDB, "db", "", "Preference database (default ~/.popwatch/prefs.db)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
	checkCmd.MarkFlagRequired("page")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run the blocking decision for one action",
	Long: "Evaluates a single popup or link activation against the stored preferences\n" +
		"on a synthetic page and prints the verdict. Nothing is sent to the authority.",
	RunE: runCheck,
}

// checkResult is the JSON shape of a dry-run verdict.
type checkResult struct {
	Decision string         `json:"decision"`
	Detail   model.Decision `json:"detail"`
}

func runCheck(cmd *cobra.Command, args []string) error {
	store, err := openPrefs(checkDB)
	if err != nil {
		return err
	}
	defer store.Close()

	p := model.DefaultPreferences()
	stored, err := store.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	p.Apply(stored)

	d, err := policy.Check(policy.CheckInput{
		PageURL: checkPage,
		Kind:    model.EventKind(checkKind),
		Href:    checkHref,
		Target:  checkTarget,
		Trusted: checkTrusted,
		MetaKey: checkMeta,
	}, p)
	if err != nil {
		return err
	}

	verdict := "allow"
	switch {
	case !p.Enabled:
		verdict = "disabled"
	case d.Block:
		verdict = "block"
	}

	switch checkFormat {
	case "json":
		out, err := json.MarshalIndent(checkResult{Decision: verdict, Detail: d}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		fmt.Printf("%s %s\n", verdict, d.Href)
		if d.Hostname != "" {
			fmt.Printf("  hostname:     %s\n", d.Hostname)
		}
		fmt.Printf("  same context: %v\n", d.SameContext)
	}
	return nil
}

func openPrefs(path string) (*prefs.SQLiteStore, error) {
	if path == "" {
		path = prefs.DefaultSQLitePath()
	}
	store, err := prefs.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	return store, nil
}
