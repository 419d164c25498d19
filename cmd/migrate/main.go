package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lgulliver/autobackup/internal/catalog"
	"github.com/lgulliver/autobackup/internal/common"
	"github.com/lgulliver/autobackup/pkg/config"
	"github.com/lgulliver/autobackup/pkg/types"
	"github.com/lgulliver/autobackup/pkg/utils"
)

func main() {
	var (
		up    = flag.Bool("up", false, "Create or update the backup catalog schema")
		list  = flag.Bool("list", false, "List cataloged backups")
		date  = flag.String("date", "", "Only list backups taken on this date")
		limit = flag.Int("limit", 20, "Maximum number of backups to list")
	)
	flag.Parse()

	if !*up && !*list {
		fmt.Printf("Usage: %s [-up] [-list [-date D] [-limit N]]\n", os.Args[0])
		fmt.Println("  -up    Create or update the backup catalog schema")
		fmt.Println("  -list  List cataloged backups")
		os.Exit(1)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Database.Driver == "" {
		log.Fatal().Msg("No catalog database configured (set AUTOBACKUP_DATABASE_DRIVER)")
	}

	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if *up {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Str("driver", cfg.Database.Driver).Msg("Migrations completed successfully")
	}

	if *list {
		records, total, err := catalog.NewService(db).List(context.Background(), &types.BackupFilter{
			Date:  *date,
			Limit: *limit,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list backups")
		}
		printRecords(os.Stdout, records, total)
	}
}

func printRecords(out io.Writer, records []*types.BackupRecord, total int64) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECT ID\tNAME\tTYPE\tSIZE\tCLIENT\tPATH")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ObjectID, r.Name, r.DetectedType, utils.FormatBytes(r.Size), r.ClientAddr, r.Path)
	}
	w.Flush()
	fmt.Fprintf(out, "%d of %d backups\n", len(records), total)
}
