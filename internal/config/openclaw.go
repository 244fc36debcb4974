package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

func openclawPaths() []string {
	paths := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".openclaw", "config.json"),
			filepath.Join(home, ".config", "openclaw", "config.json"),
		)
	}
	return append(paths, "/etc/openclaw/config.json")
}

// readOpenclaw returns the app credentials from the first readable openclaw
// config file. Keys may sit at the top level or under "feishu".
func readOpenclaw(paths []string) (appID, appSecret string, ok bool) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v := viper.New()
		v.SetConfigFile(p)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			continue
		}
		// viper lower-cases keys.
		for _, prefix := range []string{"", "feishu."} {
			id := v.GetString(prefix + "appid")
			secret := v.GetString(prefix + "appsecret")
			if id != "" && secret != "" {
				return id, secret, true
			}
		}
	}
	return "", "", false
}
