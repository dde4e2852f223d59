package web

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/deemkeen/loxodon/activitypub"
	"github.com/deemkeen/loxodon/db"
	"github.com/deemkeen/loxodon/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
)

// Router starts the HTTP server carrying the federation endpoints and the
// RSS surface.
func Router(conf *util.AppConfig, database *db.DB, svc *activitypub.Service) error {
	log.Printf("Starting HTTP server on %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	g := NewRouter(conf, database, svc)
	return g.Run(fmt.Sprintf(":%d", conf.Conf.HttpPort))
}

// NewRouter builds the gin engine without binding a port.
func NewRouter(conf *util.AppConfig, database *db.DB, svc *activitypub.Service) *gin.Engine {
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))
	g.Use(GeneralRateLimit())

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {

		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := GetRSS(database, conf, username)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/feed/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		name := c.Param("id")
		feedId, err := uuid.Parse(name)
		if err != nil {
			c.Render(404, render.String{Format: ""})
			return
		}

		rssItem, err := GetRSSItem(database, conf, feedId)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rssItem})
		}
	})

	// Both inbox endpoints share one stricter limiter and the body cap
	apLimiter := InboxRateLimit()
	maxBodySize := ActivityBodyLimit()

	g.POST("/register", func(c *gin.Context) {
		handleRegister(c, conf, database)
	})

	// Serve individual notes as ActivityPub objects
	g.GET("/notes/:id", func(c *gin.Context) {
		noteIdStr := c.Param("id")
		noteId, err := uuid.Parse(noteIdStr)
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid note ID"})
			return
		}

		err, note := GetNoteObject(database, noteId, conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Note not found"})
		} else {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.JSON(200, note)
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		err, actor := GetActor(database, c.Param("actor"), conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Actor not found"})
		} else {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.JSON(200, actor)
		}
	})

	g.POST("/inbox", apLimiter, maxBodySize, func(c *gin.Context) {
		handleSharedInbox(c, conf, database, svc)
	})

	g.POST("/users/:actor/inbox", apLimiter, maxBodySize, func(c *gin.Context) {
		actor := c.Param("actor")
		log.Printf("POST /users/%s/inbox", actor)
		svc.HandleInbox(c.Writer, c.Request, actor)
	})

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		actor := c.Param("actor")
		err, notes := database.ReadNotesByUsername(actor)
		total := 0
		if err == nil && notes != nil {
			total = len(*notes)
		}
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.JSON(200, newCollectionStub(actorIRI(conf, actor)+"/outbox", total))
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		actor := c.Param("actor")
		total := 0
		if err, acc := database.ReadAccByUsername(actor); err == nil {
			total = acc.FollowersCount
		}
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.JSON(200, newCollectionStub(actorIRI(conf, actor)+"/followers", total))
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		actor := c.Param("actor")
		total := 0
		if err, acc := database.ReadAccByUsername(actor); err == nil {
			if err, count := database.CountFollowing(acc.Id); err == nil {
				total = count
			}
		}
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		c.JSON(200, newCollectionStub(actorIRI(conf, actor)+"/following", total))
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
		err, resp := GetWebfinger(database, resource, conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.JSON(200, resp)
		}
	})

	return g
}

func actorIRI(conf *util.AppConfig, username string) string {
	return fmt.Sprintf("https://%s/users/%s", conf.Conf.SslDomain, username)
}

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{1,30}$`)

// handleRegister mints a local account with its keypair and DID. Gated by
// the closed flag so a node can run single-user without strangers creating
// actors on it. Registering an existing username returns that account.
func handleRegister(c *gin.Context, conf *util.AppConfig, database *db.DB) {
	if conf.Conf.Closed {
		c.JSON(403, gin.H{"error": "Registrations are closed on this node"})
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !usernamePattern.MatchString(req.Username) {
		c.JSON(400, gin.H{"error": "Invalid username"})
		return
	}

	err, acc := database.CreateAccount(req.Username)
	if err != nil {
		c.JSON(500, gin.H{"error": "Could not create account"})
		return
	}

	log.Printf("Registered account %s (%s)", acc.Username, acc.Did)
	c.JSON(201, gin.H{
		"username": acc.Username,
		"actor":    actorIRI(conf, acc.Username),
		"did":      acc.Did,
	})
}

// handleSharedInbox routes an activity POSTed to the node-wide inbox to a
// local user, by addressing first, then by who follows the sending actor.
func handleSharedInbox(c *gin.Context, conf *util.AppConfig, database *db.DB, svc *activitypub.Service) {
	log.Println("POST /inbox (shared inbox)")
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Shared inbox: Failed to read body: %v", err)
		c.Status(400)
		return
	}

	env, err := activitypub.ParseEnvelope(body)
	if err != nil {
		log.Printf("Shared inbox: Rejecting malformed activity: %v", err)
		c.Status(400)
		return
	}

	targetUsername := routeByAddressing(conf, env)

	if targetUsername == "" {
		// Create/Delete/Move arrive addressed to followers collections of
		// the sender. Route to any local user following that actor.
		err, edges := database.ReadFollowingByTarget(env.Actor)
		if err == nil && edges != nil && len(*edges) > 0 {
			if err, localAccount := database.ReadAccById((*edges)[0].LocalAccountId); err == nil && localAccount != nil {
				targetUsername = localAccount.Username
				log.Printf("Shared inbox: Routing to follower %s of %s", targetUsername, env.Actor)
			}
		}
	}

	if targetUsername == "" {
		log.Printf("Shared inbox: Could not determine target username from activity type %s", env.Type)
		c.Status(202) // Accept anyway to be nice
		return
	}

	log.Printf("Shared inbox: Routing to user %s", targetUsername)
	req := c.Request.Clone(c.Request.Context())
	req.Body = io.NopCloser(bytes.NewReader(body))
	svc.HandleInbox(c.Writer, req, targetUsername)
}

// routeByAddressing picks a local username out of the activity's to/cc
// fields, or out of the object URI for Follow.
func routeByAddressing(conf *util.AppConfig, env *activitypub.Envelope) string {
	extract := func(uri string) string {
		if !strings.Contains(uri, conf.Conf.SslDomain) || !strings.Contains(uri, "/users/") {
			return ""
		}
		parts := strings.Split(uri, "/")
		for i, part := range parts {
			if part == "users" && i+1 < len(parts) {
				return parts[i+1]
			}
		}
		return ""
	}

	for _, to := range env.To {
		if username := extract(to); username != "" {
			return username
		}
	}
	for _, cc := range env.Cc {
		if username := extract(cc); username != "" {
			return username
		}
	}
	return extract(env.ObjectURI())
}
