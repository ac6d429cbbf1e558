package cli

import (
	"fmt"

	"github.com/remindfi/remind-network/reminders/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(backupCmd)
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the leveldb store into a timestamped directory",
	Long:  `Must not run while serve holds the same database open.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DB.Engine != config.DBEngineLevelDB {
			return fmt.Errorf("backup is only supported for leveldb, use pg_dump for postgres")
		}

		d, _, err := openLevelDB(cfg.DB.Path)
		if err != nil {
			return err
		}
		defer d.Close()

		dir, err := d.Backup()
		if err != nil {
			return fmt.Errorf("failed to backup: %w", err)
		}
		fmt.Println(dir)
		return nil
	},
}
