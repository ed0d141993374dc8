package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/carelink/go-portal-session/backend"
	"github.com/carelink/go-portal-session/idle"
	"github.com/carelink/go-portal-session/token"
)

func newLoginCommand() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			banner()

			reader := bufio.NewReader(os.Stdin)
			if username == "" {
				fmt.Print("username: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					return err
				}
				username = strings.TrimSpace(line)
			}

			fmt.Print("password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return err
			}

			resp, err := a.service.Login(cmd.Context(), backend.Credentials{
				Username: username,
				Password: string(password),
			})
			if err != nil {
				return err
			}

			a.service.StoreAuth(resp)
			fmt.Printf("signed in as %s (%s)\n", resp.Username, resp.Role)
			a.service.RedirectToDashboard(resp.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "portal username")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			if !a.service.IsAuthenticated() {
				fmt.Println("not signed in")
				return nil
			}

			fmt.Printf("username:  %s\n", a.store.Username())
			fmt.Printf("role:      %s\n", a.store.Role())
			fmt.Printf("user id:   %s\n", a.store.UserID())
			fmt.Printf("token:     %s\n", token.Classify(a.store.AccessToken()))
			fmt.Printf("remaining: %s\n", formatRemaining(a.service.RemainingValidity()))
			return nil
		},
	}
}

func newRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the refresh token for a new pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			pair, err := a.service.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if !a.service.CommitTokens(pair) {
				return fmt.Errorf("session changed while refreshing, tokens discarded")
			}
			fmt.Printf("refreshed, token now valid for %s\n", formatRemaining(a.service.RemainingValidity()))
			return nil
		},
	}
}

func newWhoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Fetch the live profile from the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			user, err := a.service.CurrentUser(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%s %s <%s>\n", user.FirstName, user.LastName, user.Email)
			return nil
		},
	}
}

func newLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			a.service.Logout(ctx)
			fmt.Println("signed out")
			return nil
		},
	}
}

// consolePrompter asks on stdin whether to extend the session.
type consolePrompter struct{}

func (consolePrompter) PromptRenew(ctx context.Context, deadline time.Time) idle.Decision {
	fmt.Printf("\nsession expires at %s, extend? [y/N]: ", deadline.Format(time.Kitchen))

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.TrimSpace(strings.ToLower(line))
	}()

	select {
	case <-ctx.Done():
		return idle.DecisionLogout
	case line := <-answer:
		if line == "y" || line == "yes" {
			return idle.DecisionExtend
		}
		return idle.DecisionLogout
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the inactivity and expiry watcher in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if !a.service.IsAuthenticated() {
				return fmt.Errorf("not signed in")
			}

			watcher := idle.NewWatcher(a.service, consolePrompter{},
				idle.WithIdleTimeout(a.cfg.IdleTimeout),
			)
			watcher.Start()
			defer watcher.Stop()

			fmt.Println("watching session, press enter to simulate activity, ctrl-c to quit")
			reader := bufio.NewReader(os.Stdin)
			for {
				if _, err := reader.ReadString('\n'); err != nil {
					return nil
				}
				watcher.Activity()
				fmt.Printf("activity recorded, token %s\n", token.Classify(a.store.AccessToken()))
			}
		},
	}
}
