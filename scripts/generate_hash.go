//go:build ignore

// generate_hash.go — утилита для генерации служебного токена и его Argon2id хеша.
// Запуск: go run scripts/generate_hash.go [токен]
// Без аргумента токен генерируется случайно.
//
// Хеш вставьте в .env как ADMIN_TOKEN_HASH, токен отдайте вызывающим сервисам (заголовок X-Admin-Token).
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"serotonyl.ru/watch-rewards/internal/features/admin"
)

func main() {
	token := ""
	if len(os.Args) > 1 {
		token = os.Args[1]
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Printf("Ошибка генерации токена: %v\n", err)
			os.Exit(1)
		}
		token = base64.RawURLEncoding.EncodeToString(buf)
		fmt.Println("Токен (X-Admin-Token):")
		fmt.Println(token)
	}

	hash, err := admin.HashToken(token, admin.DefaultHashParams)
	if err != nil {
		fmt.Printf("Ошибка: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Хеш токена (вставьте в .env как ADMIN_TOKEN_HASH):")
	fmt.Println(hash)
}
