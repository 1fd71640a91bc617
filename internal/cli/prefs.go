package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/popwatch/internal/model"
	"github.com/ppiankov/popwatch/internal/prefs"
)

var (
	prefsDB    string
	prefsWatch bool
)

func init() {
	rootCmd.AddCommand(prefsCmd)
	prefsCmd.PersistentFlags().StringVar(&prefsDB, "db", "", "Preference database (default ~/.popwatch/prefs.db)")
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsResetCmd, prefsListCmd, prefsSyncCmd)
	prefsSyncCmd.Flags().BoolVarP(&prefsWatch, "watch", "w", false, "Keep running and apply later edits of the file")
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Read and change stored preferences",
	Long:  "Manages the preference overrides pages load at startup.\nKeys: " + strings.Join(model.PreferenceKeys, ", "),
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the effective value of a preference",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsGet,
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a preference override",
	Long:  "Boolean keys take true/false. List keys take a comma-separated list.",
	Args:  cobra.ExactArgs(2),
	RunE:  runPrefsSet,
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset <key>",
	Short: "Remove a preference override",
	Args:  cobra.ExactArgs(1),
	RunE:  runPrefsReset,
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every preference with its effective value",
	RunE:  runPrefsList,
}

var prefsSyncCmd = &cobra.Command{
	Use:   "sync [file]",
	Short: "Copy preferences from a YAML file into the database",
	Long: "Reads key/value overrides from a YAML file (default ~/.popwatch/prefs.yaml)\n" +
		"and stores them. With --watch, edits of the file are applied as they happen.",
	Args: cobra.MaximumNArgs(1),
	RunE: runPrefsSync,
}

func runPrefsGet(cmd *cobra.Command, args []string) error {
	if !model.IsPreferenceKey(args[0]) {
		return fmt.Errorf("unknown preference %q", args[0])
	}
	effective, _, err := loadEffective()
	if err != nil {
		return err
	}
	fmt.Println(formatValue(effective[args[0]]))
	return nil
}

func runPrefsSet(cmd *cobra.Command, args []string) error {
	value, err := prefs.ParseValue(args[0], args[1])
	if err != nil {
		return err
	}
	store, err := openPrefs(prefsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Set(context.Background(), args[0], value); err != nil {
		return err
	}
	fmt.Printf("%s = %s\n", args[0], formatValue(value))
	return nil
}

func runPrefsReset(cmd *cobra.Command, args []string) error {
	store, err := openPrefs(prefsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reset(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("%s reset to default\n", args[0])
	return nil
}

func runPrefsList(cmd *cobra.Command, args []string) error {
	effective, stored, err := loadEffective()
	if err != nil {
		return err
	}

	keys := append([]string(nil), model.PreferenceKeys...)
	sort.Strings(keys)
	fmt.Printf("%-24s %-8s %s\n", "KEY", "SOURCE", "VALUE")
	for _, k := range keys {
		source := "default"
		if _, ok := stored[k]; ok {
			source = "stored"
		}
		fmt.Printf("%-24s %-8s %s\n", k, source, formatValue(effective[k]))
	}
	return nil
}

func runPrefsSync(cmd *cobra.Command, args []string) error {
	path := prefs.DefaultFilePath()
	if len(args) == 1 {
		path = args[0]
	}
	file := prefs.NewFileStore(path)

	store, err := openPrefs(prefsDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	values, err := file.Load(ctx)
	if err != nil {
		return err
	}
	n := applyPrefs(ctx, store, values)
	fmt.Printf("Synced %d preference(s) from %s\n", n, path)
	if !prefsWatch {
		return nil
	}

	cancel := file.Subscribe(func(changes map[string]any) {
		if n := applyPrefs(ctx, store, changes); n > 0 {
			fmt.Printf("Synced %d changed preference(s)\n", n)
		}
	})
	defer cancel()

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", path)
	return file.Run(ctx)
}

// applyPrefs stores every recognized key and reports how many were written.
func applyPrefs(ctx context.Context, store prefs.Store, values map[string]any) int {
	n := 0
	for k, v := range values {
		if !model.IsPreferenceKey(k) {
			fmt.Fprintf(os.Stderr, "warning: skipping unknown preference %q\n", k)
			continue
		}
		if err := store.Set(ctx, k, v); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", k, err)
			continue
		}
		n++
	}
	return n
}

// loadEffective returns the defaults overlaid with stored overrides, and the overrides.
func loadEffective() (map[string]any, map[string]any, error) {
	store, err := openPrefs(prefsDB)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	stored, err := store.Load(context.Background())
	if err != nil {
		return nil, nil, fmt.Errorf("load preferences: %w", err)
	}
	p := model.DefaultPreferences()
	p.Apply(stored)
	return p.ToMap(), stored, nil
}

func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
