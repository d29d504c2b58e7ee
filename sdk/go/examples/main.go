package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"AuditFi/sdk/go/auditfi"
)

// Connects through a running daemon and prints the wallet state plus the
// latest stored reports. AUDITFI_URL defaults to http://127.0.0.1:8080.
func main() {
	baseURL := os.Getenv("AUDITFI_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	client, err := auditfi.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := client.Connect(ctx)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	fmt.Printf("connected %s on chain %s (balance %s)\n", st.FormattedAddress, st.ChainHex, st.Balance)

	reports, err := client.LatestReports(ctx, 5)
	if err != nil {
		log.Fatalf("reports: %v", err)
	}
	for _, r := range reports {
		fmt.Printf("%s %d/5 %s\n", r.ContractHash, r.Stars, r.Summary)
	}
}
