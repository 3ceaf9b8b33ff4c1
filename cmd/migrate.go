/*
Package main provides the CLI commands for managing payd's database migrations.
*/

package main

import (
	"fmt"
	"log"

	"github.com/crowdpen/payd"
	"github.com/crowdpen/payd/database"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
)

const migrationTable = "payd_migrations"

// migrateCommands creates the root command for migration-related operations.
func migrateCommands(p *paydInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run payd migrations",
	}

	cmd.AddCommand(migrateCommand(p, "up", migrate.Up))
	cmd.AddCommand(migrateCommand(p, "down", migrate.Down))

	return cmd
}

func migrateCommand(p *paydInstance, use string, direction migrate.MigrationDirection) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use: use,
		Run: func(cmd *cobra.Command, args []string) {
			migrations := migrate.EmbedFileSystemMigrationSource{
				FileSystem: payd.SQLFiles,
				Root:       "sql",
			}

			db, err := database.ConnectDB(p.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer db.Close()

			migrate.SetTable(migrationTable)

			n, err := migrate.ExecMax(db, "postgres", migrations, direction, limit)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			if direction == migrate.Up {
				fmt.Printf("Applied %d migrations!\n", n)
			} else {
				fmt.Printf("Rolled back %d migrations!\n", n)
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of migrations to run (0 means all)")
	return cmd
}
