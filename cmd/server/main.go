// Command server runs the home and chat server roles in one process.
package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ric/configs"
	"ric/crypto/rsakeys"
	"ric/messages"
	"ric/server"
	"ric/server/chat"
	"ric/server/home"
	"ric/server/store"
)

func main() {
	configs.Load()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(configs.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	core := server.CoreServices{
		Log: log,
		App: messages.AppInfo{
			Name:         "ric-server",
			Description:  "RIC home and chat server",
			Version:      messages.VersionFromBuildInfo(),
			Capabilities: []string{},
			Extensions:   map[string][]int{},
		},
	}

	var accounts store.AccountStore = store.NewMemory()
	if configs.RedisAddress != "" {
		rdb := redis.NewClient(&redis.Options{Addr: configs.RedisAddress})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis at %s: %v", configs.RedisAddress, err)
		}
		accounts = store.NewRedis(rdb, rsakeys.DefaultSuite)
		log.Infof("accounts stored in redis at %s", configs.RedisAddress)
	} else {
		log.Warn("no redis configured, accounts are volatile")
	}

	homeServer, err := home.New(core, home.Options{
		Name:               configs.ServerName,
		Description:        configs.ServerDescription,
		CanonicalURL:       configs.CanonicalURL,
		URLIsPublic:        configs.URLIsPublic,
		Suite:              rsakeys.DefaultSuite,
		Keys:               loadKeys(log, "RIC_HOME_KEY"),
		Accounts:           accounts,
		RegistrationPolicy: server.PolicyEnabled,
		LoginPolicy:        server.PolicyEnabled,
	})
	if err != nil {
		log.Fatalf("home server: %v", err)
	}

	chatServer, err := chat.New(core, chat.Options{
		Name:          configs.ServerName,
		Description:   configs.ServerDescription,
		CanonicalURL:  configs.CanonicalURL,
		Suite:         rsakeys.DefaultSuite,
		Keys:          loadKeys(log, "RIC_CHAT_KEY"),
		ConnectPolicy: server.PolicyEnabled,
		Verifier: &chat.DialBackVerifier{
			App:   core.App,
			Suite: rsakeys.DefaultSuite,
			Log:   log,
		},
	})
	if err != nil {
		log.Fatalf("chat server: %v", err)
	}

	host := server.NewHost(core)
	host.Attach(homeServer)
	host.Attach(chatServer)
	log.Fatal(host.ListenAndServe(configs.ServerAddress))
}

// loadKeys reads a PKCS#1 DER key pair from the file named by env, when set.
// A nil return means a fresh key pair is generated at startup.
func loadKeys(log logrus.FieldLogger, env string) *rsakeys.Keys {
	path := os.Getenv(env)
	if path == "" {
		return nil
	}
	der, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("%s: %v", env, err)
	}
	keys, err := rsakeys.FromPrivateKey(der, rsakeys.DefaultSuite)
	if err != nil {
		log.Fatalf("%s: %v", env, err)
	}
	return keys
}
