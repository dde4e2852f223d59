package web

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/domain"
	"github.com/deemkeen/loxodon/util"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
)

func GetRSS(database *db.DB, conf *util.AppConfig, username string) (string, error) {

	var err error
	var notes *[]domain.Note
	var title string
	var createdBy string
	var email string

	link := fmt.Sprintf("https://%s/feed", conf.Conf.SslDomain)

	if username != "" {
		err, notes = database.ReadNotesByUsername(username)
		if err != nil || *notes == nil {
			log.Println(fmt.Sprintf("Could not get notes from %s!", username), err)
			return "", errors.New("error retrieving notes by username")
		}
		title = fmt.Sprintf("Loxodon Notes - %s", username)
		createdBy = (*notes)[0].CreatedBy
		email = fmt.Sprintf("%s@%s", createdBy, conf.Conf.SslDomain)
		link = fmt.Sprintf("%s?username=%s", link, username)
	} else {
		err, notes = database.ReadAllNotes()
		if err != nil || *notes == nil {
			log.Println("Could not get notes!", err)
			return "", errors.New("error retrieving notes")
		}
		title = "All Loxodon Notes"
		createdBy = "everyone"
		email = fmt.Sprintf("%s@%s", createdBy, conf.Conf.SslDomain)
	}

	feed := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: link},
		Description: "local notes on this loxodon node",
		Author:      &feeds.Author{Name: createdBy, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range *notes {
		email := fmt.Sprintf("%s@%s", note.CreatedBy, conf.Conf.SslDomain)
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   note.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", conf.Conf.SslDomain, note.Id)},
				Content: note.Message,
				Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

func GetRSSItem(database *db.DB, conf *util.AppConfig, id uuid.UUID) (string, error) {
	err, note := database.ReadNoteId(id)

	if err != nil || note == nil {
		log.Println("Could not get note!", err)
		return "", errors.New("error retrieving note by id")
	}

	email := fmt.Sprintf("%s@%s", note.CreatedBy, conf.Conf.SslDomain)
	url := fmt.Sprintf("https://%s/feed/%s", conf.Conf.SslDomain, note.Id)

	feed := &feeds.Feed{
		Title:       "Single Loxodon Note",
		Link:        &feeds.Link{Href: url},
		Description: "one local note on this loxodon node",
		Author:      &feeds.Author{Name: note.CreatedBy, Email: email},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item

	feedItems = append(feedItems,
		&feeds.Item{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: url},
			Content: note.Message,
			Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
			Created: note.CreatedAt,
		})

	feed.Items = feedItems
	return feed.ToRss()
}
