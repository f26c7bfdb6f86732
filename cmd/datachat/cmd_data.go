package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/datachat/internal/store"
)

func init() {
	dataCmd.Flags().BoolVar(&dataForce, "force", false, "overwrite existing dataset files")
	rootCmd.AddCommand(dataCmd)
}

var dataForce bool

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Generate the demo dataset",
	RunE:  runData,
}

func runData(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	dataDir := filepath.Join(cfg.DataDir, "data")
	if dataForce {
		for _, name := range store.TableOrder {
			path := filepath.Join(dataDir, name+".json")
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", path, err)
			}
		}
	}
	if err := store.Generate(dataDir, cfg.Demo.NumUsers, cfg.Demo.NumEvents); err != nil {
		return err
	}

	st, err := store.LoadDir(dataDir)
	if err != nil {
		return err
	}
	for _, name := range st.Names() {
		tbl, _ := st.Table(name)
		fmt.Printf("%s: %d rows\n", name, len(tbl.Rows))
	}
	return nil
}
