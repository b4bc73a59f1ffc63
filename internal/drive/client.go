// Package drive wraps the Google Drive v3 API for folder mirroring:
// credential refresh, folder listing, and push notification channels.
//
// Credentials are passed explicitly into every call. The client holds no
// per-teacher state, so calls for different teachers can interleave freely.
package drive

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// channelLifetime is the expiration requested for new push channels. Drive
// caps channel lifetime at about 24 hours regardless of what is requested.
const channelLifetime = 24 * time.Hour

const listFields = "nextPageToken, files(id, name, mimeType, size, createdTime, modifiedTime, thumbnailLink, webViewLink, webContentLink)"

// Scopes requested during the consent flow. openid/email are needed so the
// callback can verify which Google account was connected.
var Scopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/drive.metadata.readonly",
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Credentials is the access token handed to a single provider call.
type Credentials struct {
	AccessToken string
}

// File is the metadata subset of a remote Drive file the sync pipeline uses.
type File struct {
	ID           string
	Name         string
	MimeType     string
	SizeBytes    int64
	CreatedAt    time.Time
	ModifiedAt   time.Time
	ViewURL      string
	DownloadURL  string
	ThumbnailURL string
}

// FileList is one page of folder contents.
type FileList struct {
	Files         []File
	NextPageToken string
}

// ListOptions bound a folder listing call.
type ListOptions struct {
	PageSize  int64
	PageToken string
}

// WatchChannel identifies a registered push notification channel.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	ExpiresAt  time.Time
}

// Client talks to the Google OAuth and Drive APIs.
type Client struct {
	oauth *oauth2.Config
}

// NewClient builds a client from the application's OAuth credentials.
func NewClient(clientID, clientSecret, redirectURL string) *Client {
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// OAuthConfig exposes the underlying config for the consent flow handlers.
func (c *Client) OAuthConfig() *oauth2.Config {
	return c.oauth
}

// AuthCodeURL returns the Google consent URL. offline access and forced
// consent guarantee a refresh token in the exchange response.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, classify(err)
	}
	return tok, nil
}

// RefreshAccessToken obtains a fresh access token from a stored refresh
// token. Returns ErrAuth when the grant has been revoked.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, time.Time, error) {
	seed := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	tok, err := c.oauth.TokenSource(ctx, seed).Token()
	if err != nil {
		return "", time.Time{}, classify(err)
	}
	return tok.AccessToken, tok.Expiry, nil
}

// service builds a Drive service authenticated with the given credentials.
// A new service per call keeps credentials out of shared state.
func (c *Client) service(ctx context.Context, creds Credentials) (*driveapi.Service, error) {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken}))
	svc, err := driveapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to build drive service: %w", err)
	}
	return svc, nil
}

// ListFolderFiles returns one page of non-trashed files in a folder, newest
// created first, metadata only.
func (c *Client) ListFolderFiles(ctx context.Context, creds Credentials, folderID string, opts ListOptions) (*FileList, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	call := svc.Files.List().
		Q(fmt.Sprintf("'%s' in parents and trashed=false", folderID)).
		Fields(googleapi.Field(listFields)).
		OrderBy("createdTime desc").
		PageSize(pageSize).
		Context(ctx)
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	r, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}

	list := &FileList{NextPageToken: r.NextPageToken}
	for _, f := range r.Files {
		createdAt, _ := time.Parse(time.RFC3339, f.CreatedTime)
		modifiedAt, _ := time.Parse(time.RFC3339, f.ModifiedTime)
		list.Files = append(list.Files, File{
			ID:           f.Id,
			Name:         f.Name,
			MimeType:     f.MimeType,
			SizeBytes:    f.Size,
			CreatedAt:    createdAt,
			ModifiedAt:   modifiedAt,
			ViewURL:      f.WebViewLink,
			DownloadURL:  f.WebContentLink,
			ThumbnailURL: f.ThumbnailLink,
		})
	}
	return list, nil
}

// CreateWatch registers a push notification channel on a folder. The
// provider enforces its own maximum lifetime; the returned expiry is
// authoritative.
func (c *Client) CreateWatch(ctx context.Context, creds Credentials, folderID, callbackURL string) (*WatchChannel, error) {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	channel := &driveapi.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    callbackURL,
		Expiration: time.Now().Add(channelLifetime).UnixMilli(),
	}

	res, err := svc.Files.Watch(folderID, channel).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}

	return &WatchChannel{
		ChannelID:  res.Id,
		ResourceID: res.ResourceId,
		ExpiresAt:  time.UnixMilli(res.Expiration),
	}, nil
}

// StopWatch tears down a push channel. Callers treat failures as
// non-actionable: an already-expired or already-stopped channel errors here.
func (c *Client) StopWatch(ctx context.Context, creds Credentials, channelID, resourceID string) error {
	svc, err := c.service(ctx, creds)
	if err != nil {
		return err
	}

	err = svc.Channels.Stop(&driveapi.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

// Supported folder URL shapes:
//
//	https://drive.google.com/drive/folders/FOLDER_ID
//	https://drive.google.com/drive/u/0/folders/FOLDER_ID
//	https://drive.google.com/open?id=FOLDER_ID
var folderIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
}

// ExtractFolderID pulls the folder id out of a shared Drive folder URL.
func ExtractFolderID(rawURL string) (string, error) {
	for _, pattern := range folderIDPatterns {
		if m := pattern.FindStringSubmatch(rawURL); len(m) > 1 {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFolderURL, rawURL)
}
