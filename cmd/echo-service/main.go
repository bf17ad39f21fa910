// Command echo-service is a stand-in downstream for running the gateway
// locally. With -mint it prints a signed access token instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"healthcare-gateway/middleware/auth"
	"healthcare-gateway/middleware/requestctx"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	var (
		addr    = flag.String("addr", getenv("LISTEN_ADDR", ":8001"), "listen address")
		service = flag.String("service", getenv("SERVICE_NAME", "echo-service"), "service name reported by /health")
		mint    = flag.Bool("mint", false, "print a signed token and exit")
		userID  = flag.Int64("user", 1, "token subject (with -mint)")
		role    = flag.String("role", "patient", "token role (with -mint)")
		ttl     = flag.Duration("ttl", time.Hour, "token lifetime (with -mint)")
	)
	flag.Parse()

	if *mint {
		tok, err := mintToken(os.Getenv("SECRET_KEY"), getenv("ALGORITHM", "HS256"), *userID, *role, *ttl)
		if err != nil {
			log.Fatalf("mint: %v", err)
		}
		fmt.Println(tok)
		return
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newEchoHandler(*service, logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("echo service listening", zap.String("addr", *addr), zap.String("service", *service))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func mintToken(secret, alg string, userID int64, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("SECRET_KEY is not set")
	}
	v, err := auth.NewVerifier(secret, alg)
	if err != nil {
		return "", err
	}
	return v.Issue(requestctx.Identity{UserID: userID, Role: requestctx.Role(role)}, ttl)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
