// main.go - Admin control tool for leadflow
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"leadflow/internal"
	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/partners"
	"leadflow/internal/seeder"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

var commands = []Command{
	&MigrateCommand{},
	&CreatePartnerCommand{},
	&ListPartnersCommand{},
	&RollupCommand{},
	&BackfillCommand{},
	&ReconcileCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	if _, ok := cmd.(*HelpCommand); ok {
		_ = cmd.Execute(ctx, nil, args)
		return
	}

	if err := run(ctx, cmd, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
	log.Printf("Command %s completed successfully", cmd.Name())
}

// run executes cmd against a fully initialized app and releases it afterwards.
func run(ctx context.Context, cmd Command, args []string) error {
	app, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}

	defer func() {
		app.Service.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
	}()

	return cmd.Execute(ctx, app, args)
}

type MigrateCommand struct{}

func (c *MigrateCommand) Name() string {
	return "migrate"
}

func (c *MigrateCommand) Description() string {
	return "Runs database migrations"
}

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// CreatePartnerCommand registers a referral partner and prints its code.
type CreatePartnerCommand struct{}

func (c *CreatePartnerCommand) Name() string {
	return "create-partner"
}

func (c *CreatePartnerCommand) Description() string {
	return "Creates a referral partner: <name> <affiliate|influencer|vendor> <email> [-code CODE] [-company NAME]"
}

func (c *CreatePartnerCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: %s <name> <type> <email> [-code CODE] [-company NAME]", c.Name())
	}

	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	code := fs.String("code", "", "custom referral code")
	company := fs.String("company", "", "company name")
	phone := fs.String("phone", "", "phone number")
	if err := fs.Parse(args[3:]); err != nil {
		return err
	}

	p, err := app.Service.CreatePartner(ctx, partners.CreateInput{
		Name:        args[0],
		ContactType: partners.ContactType(args[1]),
		Email:       args[2],
		Company:     *company,
		Phone:       *phone,
		Code:        *code,
	})
	if err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}

	fmt.Printf("Created partner %d with code %s\n", p.ID, p.Code)
	return nil
}

type ListPartnersCommand struct{}

func (c *ListPartnersCommand) Name() string {
	return "list-partners"
}

func (c *ListPartnersCommand) Description() string {
	return "Lists partners with their counters [-active]"
}

func (c *ListPartnersCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	activeOnly := fs.Bool("active", false, "only active partners")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := partners.List(app.DBManager.GetConnection().WithContext(ctx), *activeOnly)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tNAME\tTYPE\tACTIVE\tLEADS\tTOURS\tBOOKINGS")
	for _, p := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%d\t%d\t%d\n",
			p.ID, p.Code, p.Name, p.ContactType, p.Active, p.TotalLeads, p.TotalTours, p.TotalBookings)
	}
	return w.Flush()
}

type RollupCommand struct{}

func (c *RollupCommand) Name() string {
	return "rollup"
}

func (c *RollupCommand) Description() string {
	return "Recomputes daily stats for one day: [YYYY-MM-DD] (default today)"
}

func (c *RollupCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	day := time.Now()
	if len(args) > 0 {
		parsed, err := parseDay(app, args[0])
		if err != nil {
			return err
		}
		day = parsed
	}

	stats, err := app.Service.RollupDay(ctx, day)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d page views, %d unique visitors, %d contact forms\n",
		stats.Date, stats.PageViewsTotal, stats.VisitorsUnique, stats.ContactForms)
	return nil
}

type BackfillCommand struct{}

func (c *BackfillCommand) Name() string {
	return "backfill"
}

func (c *BackfillCommand) Description() string {
	return "Recomputes daily stats for a range: <from> <to>"
}

func (c *BackfillCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <from YYYY-MM-DD> <to YYYY-MM-DD>", c.Name())
	}
	from, err := parseDay(app, args[0])
	if err != nil {
		return err
	}
	to, err := parseDay(app, args[1])
	if err != nil {
		return err
	}

	rows, err := app.Service.Backfill(ctx, from, to)
	if err != nil {
		return err
	}

	log.Printf("Rolled up %d days", len(rows))
	return nil
}

type ReconcileCommand struct{}

func (c *ReconcileCommand) Name() string {
	return "reconcile"
}

func (c *ReconcileCommand) Description() string {
	return "Recounts partner counters from the leads table"
}

func (c *ReconcileCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	drift, err := app.Service.Reconcile(ctx)
	if err != nil {
		return err
	}
	if len(drift) == 0 {
		fmt.Println("All partner counters are consistent")
		return nil
	}
	for _, d := range drift {
		fmt.Printf("Partner %d (%s): %+v -> %+v\n", d.PartnerID, d.Code, d.Before, d.After)
	}
	return nil
}

type SeedCommand struct{}

func (c *SeedCommand) Name() string {
	return "seed"
}

func (c *SeedCommand) Description() string {
	return "Seeds the database with sample data"
}

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	eventCount := fs.Int("events", 5000, "number of events to generate")
	leadCount := fs.Int("leads", 60, "number of leads to generate")
	days := fs.Int("days", 30, "number of days to spread events over")
	if err := fs.Parse(args); err != nil {
		return err
	}

	se := seeder.NewSeeder(app.Service, slog.Default(), *eventCount, *leadCount)
	se.Days = *days
	return se.Run(ctx)
}

type StatusCommand struct{}

func (c *StatusCommand) Name() string {
	return "status"
}

func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection().WithContext(ctx)

	active, err := partners.CountActive(db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	var leadCount, eventCount int64
	if err := db.Model(&leads.Lead{}).Count(&leadCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	if err := db.Model(&events.Event{}).Count(&eventCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Active partners: %d", active)
	log.Printf("- Leads: %d", leadCount)
	log.Printf("- Events: %d", eventCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

type HelpCommand struct{}

func (c *HelpCommand) Name() string {
	return "help"
}

func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

func parseDay(app *internal.Application, s string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, s, app.Service.Rollup.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return day, nil
}

// parseArgs parses command line arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: leadctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
