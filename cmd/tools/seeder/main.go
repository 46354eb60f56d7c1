package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/urfave/cli/v2"
)

type planSeed struct {
	Name        string
	Slug        string
	Description string
	Prices      map[string]float64
	Variants    []variantSeed
}

type variantSeed struct {
	DaysPerWeek int
	MealsPerDay int
	PriceWeekly float64
}

type ruleSeed struct {
	Type       string
	Condition  int
	Percentage float64
}

var plans = []planSeed{
	{
		Name:        "Weight Loss",
		Slug:        "weight-loss",
		Description: "Calorie controlled meals",
		Prices:      map[string]float64{"Breakfast": 45, "Lunch": 55, "Dinner": 60, "Snack": 25},
		Variants: []variantSeed{
			{DaysPerWeek: 3, MealsPerDay: 2, PriceWeekly: 300},
			{DaysPerWeek: 5, MealsPerDay: 2, PriceWeekly: 500},
			{DaysPerWeek: 7, MealsPerDay: 3, PriceWeekly: 1120},
		},
	},
	{
		Name:        "Balanced",
		Slug:        "balanced",
		Description: "Everyday balanced nutrition",
		Prices:      map[string]float64{"Breakfast": 40, "Lunch": 50, "Dinner": 55, "Snack": 20},
		Variants: []variantSeed{
			{DaysPerWeek: 3, MealsPerDay: 2, PriceWeekly: 270},
			{DaysPerWeek: 5, MealsPerDay: 2, PriceWeekly: 450},
			{DaysPerWeek: 5, MealsPerDay: 3, PriceWeekly: 725},
			{DaysPerWeek: 7, MealsPerDay: 3, PriceWeekly: 1015},
		},
	},
	{
		Name:        "Muscle Gain",
		Slug:        "muscle-gain",
		Description: "High protein portions",
		Prices:      map[string]float64{"Breakfast": 55, "Lunch": 70, "Dinner": 75, "Snack": 30},
		Variants: []variantSeed{
			{DaysPerWeek: 5, MealsPerDay: 3, PriceWeekly: 1000},
			{DaysPerWeek: 7, MealsPerDay: 4, PriceWeekly: 1610},
		},
	},
}

var rules = []ruleSeed{
	{Type: "day_count", Condition: 5, Percentage: 3},
	{Type: "day_count", Condition: 7, Percentage: 5},
	{Type: "duration", Condition: 4, Percentage: 10},
	{Type: "duration", Condition: 8, Percentage: 12},
	{Type: "duration", Condition: 12, Percentage: 15},
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	app := &cli.App{
		Name:  "seeder",
		Usage: "Seed meal plans, variants, meal prices and discount tiers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL connection string",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "all",
				Usage:  "Seed plans and discount rules",
				Action: withDB(func(db *sql.DB) { seedPlans(db); seedRules(db) }),
			},
			{
				Name:   "plans",
				Usage:  "Seed plans, variants and meal prices",
				Action: withDB(seedPlans),
			},
			{
				Name:   "rules",
				Usage:  "Seed discount rules",
				Action: withDB(seedRules),
			},
		},
		DefaultCommand: "all",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func withDB(fn func(*sql.DB)) cli.ActionFunc {
	return func(c *cli.Context) error {
		db, err := sql.Open("postgres", c.String("database-url"))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}
		fn(db)
		log.Println("Seeding completed successfully!")
		return nil
	}
}

func seedPlans(db *sql.DB) {
	fmt.Println("Seeding Plans...")
	for _, p := range plans {
		var planID string
		err := db.QueryRow(`
			INSERT INTO meal_plans (name, slug, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description
			RETURNING id;
		`, p.Name, p.Slug, p.Description).Scan(&planID)
		if err != nil {
			log.Printf("Failed to upsert plan %s: %v", p.Name, err)
			continue
		}

		for meal, price := range p.Prices {
			_, err := db.Exec(`
				INSERT INTO meal_type_prices (plan_id, meal_type, base_price)
				VALUES ($1, $2, $3)
				ON CONFLICT (plan_id, meal_type) DO UPDATE SET base_price = EXCLUDED.base_price;
			`, planID, meal, price)
			if err != nil {
				log.Printf("Failed to upsert %s price for %s: %v", meal, p.Name, err)
			}
		}

		for _, v := range p.Variants {
			_, err := db.Exec(`
				INSERT INTO plan_variants (plan_id, days_per_week, meals_per_day, price_weekly)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (plan_id, days_per_week, meals_per_day) DO UPDATE SET price_weekly = EXCLUDED.price_weekly;
			`, planID, v.DaysPerWeek, v.MealsPerDay, v.PriceWeekly)
			if err != nil {
				log.Printf("Failed to upsert %s variant %dd/%dm: %v", p.Name, v.DaysPerWeek, v.MealsPerDay, err)
			}
		}
	}
}

func seedRules(db *sql.DB) {
	fmt.Println("Seeding Discount Rules...")
	for _, r := range rules {
		_, err := db.Exec(`
			INSERT INTO discount_rules (type, condition_value, percentage)
			VALUES ($1, $2, $3)
			ON CONFLICT (type, condition_value) WHERE is_active
			DO UPDATE SET percentage = EXCLUDED.percentage, updated_at = now();
		`, r.Type, r.Condition, r.Percentage)
		if err != nil {
			log.Printf("Failed to upsert %s rule at %d: %v", r.Type, r.Condition, err)
		}
	}
}
