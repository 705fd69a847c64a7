package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// imapScope grants IMAP access, which OAUTHBEARER login requires
const imapScope = "https://mail.google.com/"

func main() {
	clientID := os.Getenv("MAIL_CHAT_BRIDGE_OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("MAIL_CHAT_BRIDGE_OAUTH_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		log.Fatal("Please set MAIL_CHAT_BRIDGE_OAUTH_CLIENT_ID and MAIL_CHAT_BRIDGE_OAUTH_CLIENT_SECRET environment variables")
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{imapScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	fmt.Scan(&authCode)

	tok, err := config.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Unable to retrieve token from web: %v", err)
	}
	if tok.RefreshToken == "" {
		log.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	fmt.Printf("\nAccess token expires: %v\n", tok.Expiry)
	fmt.Println("\nAdd these keys to the account section of your config file:")
	fmt.Println("auth = oauth2")
	fmt.Printf("oauth_client_id = %s\n", clientID)
	fmt.Printf("oauth_client_secret = %s\n", clientSecret)
	fmt.Printf("oauth_refresh_token = %s\n", tok.RefreshToken)
}
