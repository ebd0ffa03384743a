package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	bazaarNet "bazaar/internal/net"
	"bazaar/internal/market"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9660", "Address of the marketplace server")
	caller := flag.String("caller", "", "Caller identity (compulsory)")
	action := flag.String("action", "", "Action: ['create', 'cancel', 'execute', 'set-cut', 'set-fee', 'watch']")

	contract := flag.String("contract", "", "Asset contract address")
	assetID := flag.Uint64("asset", 0, "Asset id")
	price := flag.Uint64("price", 0, "Price in smallest token unit")
	expiresIn := flag.Duration("expires-in", time.Hour, "Listing lifetime from now")
	fingerprint := flag.String("fingerprint", "", "Hex-encoded fingerprint proof for execute")
	value := flag.Uint64("value", 0, "Value for set-cut / set-fee")

	flag.Parse()

	if *caller == "" {
		fmt.Println("Error: -caller is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *caller)

	go readReports(conn)

	id := market.Address(*caller)
	contractAddr := market.Address(*contract)

	var msg bazaarNet.Message
	switch *action {
	case "create":
		msg = bazaarNet.CreateOrderMessage{
			BaseMessage:   bazaarNet.BaseMessage{TypeOf: bazaarNet.CreateOrder},
			Caller:        id,
			AssetContract: contractAddr,
			AssetID:       *assetID,
			Price:         *price,
			ExpiresAt:     time.Now().Add(*expiresIn),
		}
	case "cancel":
		msg = bazaarNet.CancelOrderMessage{
			BaseMessage:   bazaarNet.BaseMessage{TypeOf: bazaarNet.CancelOrder},
			Caller:        id,
			AssetContract: contractAddr,
			AssetID:       *assetID,
		}
	case "execute":
		var proof []byte
		if *fingerprint != "" {
			proof, err = hex.DecodeString(*fingerprint)
			if err != nil {
				log.Fatalf("Invalid fingerprint hex: %v", err)
			}
		}
		msg = bazaarNet.ExecuteOrderMessage{
			BaseMessage:   bazaarNet.BaseMessage{TypeOf: bazaarNet.ExecuteOrder},
			Caller:        id,
			AssetContract: contractAddr,
			AssetID:       *assetID,
			Price:         *price,
			Fingerprint:   proof,
		}
	case "set-cut":
		msg = bazaarNet.AdminMessage{
			BaseMessage: bazaarNet.BaseMessage{TypeOf: bazaarNet.SetOwnerCut},
			Caller:      id,
			Value:       *value,
		}
	case "set-fee":
		msg = bazaarNet.AdminMessage{
			BaseMessage: bazaarNet.BaseMessage{TypeOf: bazaarNet.SetPublicationFee},
			Caller:      id,
			Value:       *value,
		}
	case "watch":
		msg = bazaarNet.BaseMessage{TypeOf: bazaarNet.Heartbeat}
	default:
		log.Fatalf("Unknown action: %q", *action)
	}

	if err := bazaarNet.Send(conn, msg); err != nil {
		log.Fatalf("Failed to send %s request: %v", *action, err)
	}
	fmt.Printf("-> Sent %s request\n", *action)

	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

// readReports prints every report pushed by the server: the ack or error
// for our own request plus the broadcast event stream.
func readReports(conn net.Conn) {
	for {
		report, err := bazaarNet.Receive(conn)
		if err != nil {
			log.Fatalf("Connection closed: %v", err)
		}

		switch report.TypeOf {
		case bazaarNet.AckReport:
			if report.OrderID != "" {
				fmt.Printf("<- OK (order %s)\n", report.OrderID)
			} else {
				fmt.Println("<- OK")
			}
		case bazaarNet.ErrorReport:
			fmt.Printf("<- ERROR: %s\n", report.Err)
		case bazaarNet.EventReport:
			fmt.Printf("<- EVENT #%d %s at %s: %s\n",
				report.Seq,
				report.Event,
				time.Unix(report.At, 0).UTC().Format(time.RFC3339),
				report.Payload,
			)
		}
	}
}
