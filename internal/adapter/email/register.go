package email

import (
	"strconv"

	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		port := 587
		if v := config["port"]; v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return nil, err
			}
			port = p
		}
		return NewNotifier(SMTPConfig{
			Host:     config["host"],
			Port:     port,
			Username: config["username"],
			Password: config["password"],
			From:     config["from"],
			Domain:   config["domain"],
		}), nil
	})
}
