package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// zerologAdapter routes the library's internal logging into zerolog.
type zerologAdapter struct{}

func (zerologAdapter) Println(v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (zerologAdapter) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func init() {
	_ = tgbotapi.SetLogger(zerologAdapter{})
}
