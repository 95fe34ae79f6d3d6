// Package api implements the HTTP surface of the content-metadata service:
// Basic-auth login issuing session cookies, the landing pages, and the
// contentProperties catalogue endpoints, along with the authorization policy
// that gates them.
package api
