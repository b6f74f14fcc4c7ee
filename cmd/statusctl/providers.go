package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aistatus/aistatus/internal/provider"
)

// providerFile is the YAML layout of a provider list.
type providerFile struct {
	Providers []provider.Provider `yaml:"providers"`
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect provider configuration",
}

var providersValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a provider list for duplicate ids, missing fields and unknown formats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		providers, err := readProviderFile(args[0])
		if err != nil {
			return err
		}
		if err := provider.Validate(providers); err != nil {
			return err
		}

		active := 0
		for _, p := range providers {
			if p.Active {
				active++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d providers ok (%d active)\n", len(providers), active)
		return nil
	},
}

func readProviderFile(path string) ([]provider.Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading provider file: %w", err)
	}

	var file providerFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing provider file: %w", err)
	}
	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("%w: no providers in %s", provider.ErrInvalidConfig, path)
	}
	return file.Providers, nil
}

func init() {
	providersCmd.AddCommand(providersValidateCmd)
}
