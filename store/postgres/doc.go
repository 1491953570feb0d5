// Package postgres implements the authcore user, permission, refresh token
// and audit stores on PostgreSQL through database/sql and the pgx driver.
//
// Refresh token rotation is a conditional UPDATE ... RETURNING inside a
// transaction. PostgreSQL row locks make concurrent rotations of the same
// token serialize, and the loser's WHERE clause no longer matches.
package postgres
