package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/util"
	"github.com/deemkeen/loxodon/web"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	database, err := db.NewDB(util.ResolveFilePath("database.db"))
	if err != nil {
		log.Fatalln(err)
	}
	defer database.Close()

	log.Println("Running database migrations...")
	if err := database.RunMigrations(); err != nil {
		log.Fatalln(err)
	}
	log.Println("Database migrations complete")

	// Bootstrap the configured local account so a fresh node federates
	// without needing an open registration endpoint.
	if conf.Conf.User != "" {
		err, acc := database.CreateAccount(conf.Conf.User)
		if err != nil {
			log.Fatalln(err)
		}
		log.Printf("Local account %s ready (%s)", acc.Username, acc.Did)
	}

	resolver := activitypub.NewResolver(database)
	deliverer := activitypub.NewDeliverer()
	svc := activitypub.NewService(conf, database, database, database, resolver, deliverer)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := web.Router(conf, database, svc); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping server")
}
