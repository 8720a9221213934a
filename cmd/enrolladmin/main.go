package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"graintrust/config"
	"graintrust/identity"
	"graintrust/internal/models"
	"graintrust/storage/store"
)

// enrolladmin bootstraps the administrative identity the engine registers
// farmers with. Run once per environment before starting the engine.
func main() {
	logger := log.New(os.Stdout, "[ENROLL-ADMIN] ", log.LstdFlags)

	configPath := flag.String("config", "./config/engine.defaults.yml", "path to the engine configuration file")
	enrollmentID := flag.String("id", "admin", "admin enrollment id registered with the credential authority")
	secret := flag.String("secret", "", "admin enrollment secret (required)")
	flag.Parse()

	if *secret == "" {
		logger.Fatal("FATAL: -secret is required")
	}

	engineCfg, err := config.LoadEngineConfig(*configPath)
	if err != nil {
		logger.Fatalf("FATAL: Failed to load engine configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbStore, err := store.NewPostgresStore(ctx, engineCfg.Database.DSN, engineCfg.Database.MinConnections, engineCfg.Database.MaxConnections, logger)
	if err != nil {
		logger.Fatalf("FATAL: Failed to initialize database store: %v", err)
	}
	defer dbStore.Close()

	adminID := engineCfg.Identity.AdminPrincipalID
	if existing, err := dbStore.GetCredential(ctx, adminID); err == nil {
		logger.Printf("Admin credential already stored (enrolled %s), nothing to do.", existing.CreatedAt.Format(time.RFC3339))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Fatalf("FATAL: Failed to look up admin credential: %v", err)
	}

	authority := identity.NewCAClient(engineCfg.Identity, logger)
	logger.Printf("Enrolling admin identity %s against %s...", *enrollmentID, engineCfg.Identity.AuthorityURL)
	enrollment, err := authority.Enroll(ctx, *enrollmentID, *secret)
	if err != nil {
		logger.Fatalf("FATAL: Admin enrollment failed: %v", err)
	}

	cred := &models.Credential{
		PrincipalID:  adminID,
		EnrollmentID: *enrollmentID,
		MSPID:        engineCfg.Identity.MSPID,
		Certificate:  enrollment.Certificate,
		PrivateKey:   enrollment.PrivateKey,
		CreatedAt:    time.Now().UTC(),
	}
	if err := dbStore.PutCredential(ctx, cred); err != nil {
		logger.Fatalf("FATAL: Failed to persist admin credential: %v", err)
	}

	logger.Printf("Admin credential stored for principal %s (MSP %s).", adminID, engineCfg.Identity.MSPID)
}
