package bootstrap

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/krobus00/market-collector/internal/config"
	"github.com/krobus00/market-collector/internal/util"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

const migrationRoot = "migration/postgresql"

type migrationArgs struct {
	dir     string
	name    string
	version int64
}

// migrationActions maps the --action flag to goose commands. Missing versions
// are allowed so tables added on another branch can still be applied.
var migrationActions = map[string]func(db *sql.DB, args migrationArgs) error{
	"create": func(db *sql.DB, args migrationArgs) error {
		return goose.Create(db, args.dir, args.name, "sql")
	},
	"up": func(db *sql.DB, args migrationArgs) error {
		return goose.Up(db, args.dir, goose.WithAllowMissing())
	},
	"up-by-one": func(db *sql.DB, args migrationArgs) error {
		return goose.UpByOne(db, args.dir, goose.WithAllowMissing())
	},
	"up-to": func(db *sql.DB, args migrationArgs) error {
		return goose.UpTo(db, args.dir, args.version, goose.WithAllowMissing())
	},
	"down": func(db *sql.DB, args migrationArgs) error {
		return goose.Down(db, args.dir, goose.WithAllowMissing())
	},
	"down-to": func(db *sql.DB, args migrationArgs) error {
		return goose.DownTo(db, args.dir, args.version, goose.WithAllowMissing())
	},
	"status": func(db *sql.DB, args migrationArgs) error {
		return goose.Status(db, args.dir)
	},
	"reset": func(db *sql.DB, args migrationArgs) error {
		if err := goose.Reset(db, args.dir, goose.WithAllowMissing()); err != nil {
			return err
		}
		return goose.Up(db, args.dir, goose.WithAllowMissing())
	},
}

func StartMigrate(cmd *cobra.Command, _ []string) {
	databaseName, _ := cmd.Flags().GetString("databaseName")
	actionName, _ := cmd.Flags().GetString("action")
	name, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt64("version")

	action, err := migrationAction(actionName)
	util.ContinueOrFatal(err)

	dbConfig, ok := config.Env.Database[databaseName]
	if !ok {
		util.ContinueOrFatal(fmt.Errorf("database %q is not configured", databaseName))
	}

	db, err := sql.Open("postgres", dbConfig.DSN)
	util.ContinueOrFatal(err)
	defer db.Close()
	util.ContinueOrFatal(goose.SetDialect("postgres"))

	err = action(db, migrationArgs{
		dir:     filepath.Join(migrationRoot, databaseName),
		name:    name,
		version: version,
	})
	util.ContinueOrFatal(err)
}

func migrationAction(name string) (func(db *sql.DB, args migrationArgs) error, error) {
	action, ok := migrationActions[name]
	if !ok {
		return nil, fmt.Errorf("invalid migration action %q", name)
	}

	return action, nil
}
