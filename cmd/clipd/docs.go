package main

// General API documentation for swaggo. Generate with
// `swag init -g cmd/clipd/docs.go -d .,internal/httpapi` and blank-import the
// generated package in a `swagger`-tagged file to serve it at /swagger/.
//
// @title           clipd API
// @version         1.0
// @description     Image and text embeddings plus zero-shot image-text similarity for a CLIP/SigLIP model.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
