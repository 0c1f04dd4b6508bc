package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
	localeSpanish locale = "es"
)

type messages struct {
	recording string
	ready     string
	uploading string
	sending   string
	completed string
	failed    string
	rejected  string
}

func messagesFromEnv() messages {
	return messagesFor(resolveLocale(os.Getenv("LC_MESSAGES"), os.Getenv("LANG")))
}

// resolveLocale returns the first recognised locale among candidates.
func resolveLocale(candidates ...string) locale {
	for _, raw := range candidates {
		raw = strings.ToLower(strings.TrimSpace(raw))
		switch {
		case strings.HasPrefix(raw, "es"):
			return localeSpanish
		case strings.HasPrefix(raw, "en"):
			return localeEnglish
		}
	}
	return localeEnglish
}

func messagesFor(tag locale) messages {
	if tag == localeSpanish {
		return messages{
			recording: "Grabando práctica…",
			ready:     "Video listo para enviar",
			uploading: "Subiendo video…",
			sending:   "Enviando al servidor…",
			completed: "Práctica enviada",
			failed:    "No se pudo completar la práctica",
			rejected:  "Video no válido",
		}
	}
	return messages{
		recording: "Recording practice…",
		ready:     "Video ready to send",
		uploading: "Uploading video…",
		sending:   "Sending to server…",
		completed: "Practice submitted",
		failed:    "Practice could not be completed",
		rejected:  "Video rejected",
	}
}
