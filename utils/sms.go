package utils

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// SendSMS sends a text message through the Africa's Talking messaging API.
// Used for settlement and loan decision alerts; failures are logged and
// never block the caller.
func SendSMS(phone, message string) error {
	apiURL := os.Getenv("AT_API_URL") // e.g. https://api.africastalking.com/version1/messaging
	apiKey := os.Getenv("AT_API_KEY")
	username := os.Getenv("AT_USERNAME")

	if apiURL == "" || apiKey == "" || username == "" {
		log.Println("Missing AT_API_URL, AT_API_KEY, or AT_USERNAME")
		return fmt.Errorf("missing required sms config")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("to", phone)
	form.Set("message", message)

	req, err := http.NewRequest("POST", apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.Printf("Failed to create sms request: %v", err)
		return err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", apiKey)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("Failed to send sms: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		log.Printf("Africa's Talking returned status %s", resp.Status)
		return fmt.Errorf("africastalking API error: %s", resp.Status)
	}

	log.Printf("SMS successfully sent to %s", phone)
	return nil
}
