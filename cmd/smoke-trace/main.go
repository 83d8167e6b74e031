// smoke-trace exercises a running agrotrace-api end to end: role request,
// approval, product registration, transfer, and history verification.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"agrotrace.org/internal/auth"
	"agrotrace.org/internal/client"
)

func main() {
	baseURL := os.Getenv("AGROTRACE_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	admin := os.Getenv("AGROTRACE_BOOTSTRAP_ADMIN")
	if admin == "" {
		admin = "0xadmin"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	farmer := fmt.Sprintf("0xsmoke-%d", time.Now().Unix())
	adminClient := client.New(baseURL, client.WithToken(mustToken(admin)))
	farmerClient := client.New(baseURL, client.WithToken(mustToken(farmer)))

	req, err := farmerClient.SubmitRoleRequest(ctx, "FARMER", "smoke test onboarding")
	if err != nil {
		log.Fatalf("submit role request: %v", err)
	}
	if _, err := adminClient.ProcessRoleRequest(ctx, req.ID, true); err != nil {
		log.Fatalf("approve role request: %v", err)
	}
	held, err := farmerClient.HasRole(ctx, farmer, "FARMER")
	if err != nil || !held {
		log.Fatalf("role check failed: held=%v err=%v", held, err)
	}

	product, err := farmerClient.RegisterProduct(ctx, "Smoke beans", "Testland", time.Now().Add(-24*time.Hour))
	if err != nil {
		log.Fatalf("register product: %v", err)
	}

	newOwner := farmer + "-dist"
	if _, err := farmerClient.TransferOwnership(ctx, product.ID, newOwner); err != nil {
		log.Fatalf("transfer: %v", err)
	}

	history, err := farmerClient.History(ctx, product.ID)
	if err != nil {
		log.Fatalf("history: %v", err)
	}
	if history.CurrentOwner != newOwner {
		log.Fatalf("unexpected owner after transfer: %s", history.CurrentOwner)
	}
	if len(history.OwnershipHistory) != 1 || history.OwnershipHistory[0] != farmer {
		log.Fatalf("unexpected ownership history: %v", history.OwnershipHistory)
	}

	count, err := farmerClient.ProductCount(ctx)
	if err != nil || count == 0 {
		log.Fatalf("product count: count=%d err=%v", count, err)
	}

	fmt.Printf("✅ agrotrace smoke test passed: product=%d owner=%s\n", product.ID, history.CurrentOwner)
}

func mustToken(principal string) string {
	token, err := auth.GenerateToken(principal, 15*time.Minute)
	if err != nil {
		log.Fatalf("generate token for %s: %v (is AGROTRACE_AUTH_SECRET set?)", principal, err)
	}
	return token
}
