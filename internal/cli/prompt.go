package cli

import (
	"github.com/charmbracelet/huh"

	"github.com/tmckenzie51/sshkit/internal/errors"
)

// promptPassword asks for the user's SSH password interactively.
func promptPassword(user, host string) (string, error) {
	var password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Password for "+user+"@"+host).
				EchoMode(huh.EchoModePassword).
				Value(&password),
		),
	)

	if err := form.Run(); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrAuth,
			"Couldn't read the password",
			"Try again, or use key or agent authentication")
	}
	return password, nil
}
