package web

import (
	"fmt"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/util"
)

func GetWebfinger(database *db.DB, user string, conf *util.AppConfig) (error, *activitypub.WebfingerResponse) {

	err, acc := database.ReadAccByUsername(user)
	if err != nil {
		return err, nil
	}

	actorURI := fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, acc.Username)

	return nil, &activitypub.WebfingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", acc.Username, conf.Conf.SslDomain),
		Aliases: []string{actorURI},
		Links: []activitypub.WebfingerLink{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actorURI,
			},
		},
	}
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
