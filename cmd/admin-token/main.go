// 管理用エンドポイント（/admin/stats）のJWTを発行するコマンド。
//
//	ADMIN_JWT_SECRET=... admin-token -subject operator -ttl 12h
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nao1215/shortgate/pkg/middleware"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "admin-token: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	secret := fs.String("secret", os.Getenv("ADMIN_JWT_SECRET"), "署名鍵（既定値は ADMIN_JWT_SECRET）")
	subject := fs.String("subject", "admin", "トークンのsubject")
	ttl := fs.Duration("ttl", middleware.DefaultTokenTTL, "有効期間")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("署名鍵が指定されていません（-secret または ADMIN_JWT_SECRET）")
	}

	token, err := middleware.GenerateJWT(*secret, *subject, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
