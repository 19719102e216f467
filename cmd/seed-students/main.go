package main

import (
	"context"
	"fmt"
	"time"

	"github.com/unimath/placement-backend/internal/config"
	"github.com/unimath/placement-backend/internal/database"
	"github.com/unimath/placement-backend/internal/logger"
	"github.com/unimath/placement-backend/internal/model"
	"github.com/unimath/placement-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	fmt.Println("=== Seeding 50 Students ===")

	names := [][2]string{
		{"James", "Anderson"}, {"Maria", "Garcia"}, {"Robert", "Johnson"}, {"Linda", "Martinez"},
		{"Michael", "Brown"}, {"Susan", "Davis"}, {"David", "Miller"}, {"Karen", "Wilson"},
		{"John", "Moore"}, {"Nancy", "Taylor"}, {"Daniel", "Thomas"}, {"Lisa", "Jackson"},
		{"Paul", "White"}, {"Sandra", "Harris"}, {"Mark", "Martin"}, {"Donna", "Thompson"},
		{"George", "Lopez"}, {"Carol", "Lee"}, {"Kenneth", "Walker"}, {"Ruth", "Hall"},
		{"Steven", "Allen"}, {"Sharon", "Young"}, {"Edward", "King"}, {"Michelle", "Wright"},
		{"Brian", "Scott"}, {"Laura", "Green"}, {"Ronald", "Baker"}, {"Sarah", "Adams"},
		{"Anthony", "Nelson"}, {"Kimberly", "Hill"}, {"Kevin", "Campbell"}, {"Deborah", "Mitchell"},
		{"Jason", "Roberts"}, {"Jessica", "Carter"}, {"Jeffrey", "Phillips"}, {"Shirley", "Evans"},
		{"Ryan", "Turner"}, {"Cynthia", "Torres"}, {"Jacob", "Parker"}, {"Angela", "Collins"},
		{"Gary", "Edwards"}, {"Melissa", "Stewart"}, {"Nicholas", "Flores"}, {"Brenda", "Morris"},
		{"Eric", "Murphy"}, {"Amy", "Cook"}, {"Jonathan", "Rogers"}, {"Anna", "Reed"},
		{"Stephen", "Morgan"}, {"Rebecca", "Bell"},
	}

	// One shared hash keeps the seed fast; every account logs in with "placement".
	hash, err := bcrypt.GenerateFromPassword([]byte("placement"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash seed password")
	}

	successCount := 0
	for i, n := range names {
		act := 18 + i%14
		sisID := 700000 + i

		student := &model.Student{
			ID:           fmt.Sprintf("S%07d", i+1),
			FirstName:    n[0],
			LastName:     n[1],
			PasswordHash: string(hash),
			ACTMathScore: &act,
			Licensed:     true,
			SISID:        &sisID,
		}

		if err := studentRepo.Create(ctx, student); err != nil {
			fmt.Printf("Error creating student %s %s (%s): %v\n", student.FirstName, student.LastName, student.ID, err)
		} else {
			successCount++
			if (i+1)%10 == 0 {
				fmt.Printf("Created %d students...\n", i+1)
			}
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/%d students.\n", successCount, len(names))
}
