package users

const getUserSQL = `SELECT id, username, created_at FROM users WHERE id = $1`

const userExistsSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`

const upsertUserSQL = `
INSERT INTO users (id, username) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username
RETURNING id, username, created_at`
