// Command client exercises the full protocol flow against a running server:
// verify the home server, register and log in, then connect to the chat
// server with the vouched identity.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"ric/client"
	"ric/crypto/rsakeys"
	"ric/messages"
)

var clientApp = messages.AppInfo{
	Name:         "ric-client",
	Description:  "RIC test client",
	Version:      messages.VersionFromBuildInfo(),
	Capabilities: []string{},
	Extensions:   map[string][]int{},
}

func main() {
	username := flag.String("user", "test", "username to register and log in")
	password := flag.String("pass", "potato", "password for the account")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <server-url>\n", os.Args[0])
		os.Exit(1)
	}
	baseURL := flag.Arg(0)

	log := logrus.New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Infof("connecting to %s", baseURL)
	homeClient, err := client.DialHome(ctx, baseURL, clientApp, rsakeys.DefaultSuite, log)
	if err != nil {
		log.Fatalf("dial home: %v", err)
	}
	defer homeClient.Close(ctx, "application exiting")

	if err := homeClient.VerifyServerIdentity(ctx); err != nil {
		log.Fatalf("verify home server: %v", err)
	}
	log.Info("home server identity verified")

	if err := homeClient.Register(ctx, *username, *password); err != nil {
		// An existing account is fine when rerunning against the same server.
		log.Warnf("register: %v", err)
	}
	if err := homeClient.Login(ctx, *username, *password); err != nil {
		log.Fatalf("login: %v", err)
	}
	log.Infof("logged in as %q", *username)

	chatClient, err := client.DialChat(ctx, baseURL, clientApp, rsakeys.DefaultSuite, log)
	if err != nil {
		log.Fatalf("dial chat: %v", err)
	}
	defer chatClient.Close(ctx, "application exiting")

	if err := chatClient.VerifyServerIdentity(ctx); err != nil {
		log.Fatalf("verify chat server: %v", err)
	}
	log.Info("chat server identity verified")

	if err := chatClient.Connect(ctx, homeClient); err != nil {
		log.Fatalf("connect: %v", err)
	}
	log.Infof("connected to chat server %q", chatClient.ServerIdentity().Name)

	if err := chatClient.Disconnect(ctx, "done"); err != nil {
		log.Fatalf("disconnect: %v", err)
	}
	if err := homeClient.Logout(ctx); err != nil {
		log.Fatalf("logout: %v", err)
	}
	log.Info("session complete")
}
