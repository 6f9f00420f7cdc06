package bot

import (
	"fmt"
	"os"
)

func New(cfg Config, router *Router) (Bot, error) {
	switch cfg.Provider {
	case "telegram":
		return NewTelegram(cfg.Token, router)
	case "discord":
		return NewDiscord(cfg.Token, router)
	case "console", "":
		return NewConsole(router, os.Stdin, os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown bot provider: %s", cfg.Provider)
	}
}

func NewTelegram(token string, router *Router) (Bot, error) {
	return newTelegram(token, router)
}

func NewDiscord(token string, router *Router) (Bot, error) {
	return newDiscord(token, router)
}
