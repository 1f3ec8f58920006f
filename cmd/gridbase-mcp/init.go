package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file interactively",
	Long: `Create ~/.gridbase/config.yaml (or $GRIDBASE_CONFIG_DIR/config.yaml)
through an interactive form. Existing files are never overwritten without
confirmation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit()
	},
}

func configDir() (string, error) {
	if dir := os.Getenv("GRIDBASE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".gridbase"), nil
}

func runInit() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(path); err == nil {
		var overwrite bool
		confirm := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Overwrite?", path)).
			Value(&overwrite)
		if err := confirm.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var (
		baseURL     = "https://api.gridbase.io/v1"
		apiKey      string
		workspaceID string
		cachePath   string
		ttlStr      = "3600"
		timezone    string
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("API base URL").
				Description("The GridBase REST endpoint").
				Value(&baseURL).
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
						return fmt.Errorf("must start with http:// or https://")
					}
					return nil
				}),

			huh.NewInput().
				Title("API key").
				Description("Found under workspace settings").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("api key is required")
					}
					return nil
				}),

			huh.NewInput().
				Title("Workspace ID").
				Placeholder("ws_...").
				Value(&workspaceID),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Cache path").
				Description("SQLite file for the record cache (blank for the default)").
				Placeholder("~/.gridbase/cache.db").
				Value(&cachePath),

			huh.NewInput().
				Title("Default TTL (seconds)").
				Description("Record freshness window for tables without an override").
				Value(&ttlStr).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return fmt.Errorf("must be a positive integer")
					}
					return nil
				}),

			huh.NewInput().
				Title("Timezone").
				Description("IANA zone for date filters (blank for the system zone)").
				Placeholder("America/New_York").
				Value(&timezone),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	ttl, _ := strconv.Atoi(ttlStr)
	cfg := map[string]any{
		"upstream": map[string]any{
			"base_url":     baseURL,
			"api_key":      apiKey,
			"workspace_id": workspaceID,
		},
		"cache": map[string]any{
			"default_ttl_seconds": ttl,
		},
	}
	if cachePath != "" {
		cfg["cache"].(map[string]any)["path"] = cachePath
	}
	if timezone != "" {
		cfg["timezone"] = timezone
	}

	blob, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}
