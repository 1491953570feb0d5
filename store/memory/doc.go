// Package memory provides in-process implementations of the authcore user
// and permission stores. They back tests, the development server and
// single-node deployments that do not need durable storage.
package memory
