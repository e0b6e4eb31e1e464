package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/drivefs-fuse/drivefs-go/internal/drive"
	"github.com/drivefs-fuse/drivefs-go/internal/fusefs"
	"github.com/drivefs-fuse/drivefs-go/internal/remote/clouddrive"
	"github.com/drivefs-fuse/drivefs-go/internal/remote/s3remote"
	"github.com/drivefs-fuse/drivefs-go/internal/store"
)

func main() {
	var (
		mountpoint = flag.String("mountpoint", "", "Mount point directory")
		backend    = flag.String("backend", "clouddrive", "Remote backend: clouddrive or s3")

		origin   = flag.String("origin", "http://localhost:19798", "Clouddrive server origin")
		username = flag.String("username", "", "Clouddrive username")
		password = flag.String("password", "", "Clouddrive password")

		bucket    = flag.String("bucket", "", "S3 bucket name")
		region    = flag.String("region", "us-east-1", "AWS region")
		endpoint  = flag.String("endpoint", "", "S3 endpoint URL (for S3-compatible services)")
		accessKey = flag.String("access-key", "", "S3 access key (default credential chain when empty)")
		secretKey = flag.String("secret-key", "", "S3 secret key")

		cooldown   = flag.Duration("cooldown", 30*time.Second, "Minimum interval between directory refresh attempts")
		cacheTTL   = flag.Duration("cache-ttl", time.Hour, "Directory snapshot lifetime")
		maxStreams = flag.Int("max-read-streams", 0, "Max physical read streams per file (0 = one per handle)")

		hideExts = flag.String("hide", "", "Comma-separated name suffixes to hide")
		strmExts = flag.String("strm", "", "Comma-separated name suffixes to expose as .strm files")
		zipExts  = flag.String("zip-as-dir", "", "Comma-separated archive suffixes to expose as pseudo-directories")

		directNames = flag.String("direct-open-names", "", "Comma-separated process names to hand the direct URL")
		directExes  = flag.String("direct-open-exes", "", "Comma-separated executable paths to hand the direct URL")

		storeType  = flag.String("store", "", "Attribute cache spill store: postgres or mongodb")
		pgConnStr  = flag.String("postgres-conn", "", "PostgreSQL connection string")
		mongoURI   = flag.String("mongo-uri", "", "MongoDB URI")
		storeMount = flag.String("store-mount", "", "Namespace for the spill store")

		logLevel = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	log := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Fatalf("bad log level %q: %v", *logLevel, err)
	}

	if *mountpoint == "" {
		log.Fatal("mountpoint is required")
	}

	ctx := context.Background()

	var remote drive.Store
	var err error
	switch *backend {
	case "clouddrive":
		remote, err = clouddrive.Login(ctx, *origin, *username, *password)
	case "s3":
		remote, err = s3remote.New(ctx, s3remote.Options{
			Bucket:    *bucket,
			Region:    *region,
			Endpoint:  *endpoint,
			AccessKey: *accessKey,
			SecretKey: *secretKey,
		})
	default:
		log.Fatalf("unknown backend: %s", *backend)
	}
	if err != nil {
		log.Fatalf("Failed to connect to remote: %v", err)
	}

	spill, err := store.New(store.Config{
		Type:            store.Type(*storeType),
		Mount:           *storeMount,
		PostgresConnStr: *pgConnStr,
		MongoURI:        *mongoURI,
	})
	if err != nil {
		log.Fatalf("Failed to open spill store: %v", err)
	}

	cfg := drive.Config{
		Hide:            suffixPredicate(*hideExts),
		Strm:            suffixPredicate(*strmExts),
		ZipAsDir:        suffixMatcher(*zipExts),
		Cooldown:        *cooldown,
		CacheTTL:        *cacheTTL,
		MaxReadStreams:  *maxStreams,
		DirectOpenNames: nameMatcher(*directNames),
		DirectOpenExes:  nameMatcher(*directExes),
		Spill:           spill,
		Logger:          log,
	}

	log.Infof("Mounting %s backend to %s", *backend, *mountpoint)
	if err := fusefs.Mount(*mountpoint, drive.New(remote, cfg)); err != nil {
		log.Fatalf("Failed to mount filesystem: %v", err)
	}
}

// suffixPredicate compiles a comma-separated suffix list into an item
// predicate. Richer predicate languages stay outside the core; suffix
// lists cover the common hide/strm setups.
func suffixPredicate(list string) drive.Predicate {
	match := suffixMatcher(list)
	if match == nil {
		return nil
	}
	return func(item drive.Item) bool {
		return !item.IsDir && match(item.Name)
	}
}

func suffixMatcher(list string) func(string) bool {
	suffixes := splitList(list)
	if len(suffixes) == 0 {
		return nil
	}
	return func(name string) bool {
		name = strings.ToLower(name)
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				return true
			}
		}
		return false
	}
}

func nameMatcher(list string) func(string) bool {
	names := splitList(list)
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return func(name string) bool {
		_, ok := set[strings.ToLower(name)]
		return ok
	}
}

func splitList(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
