/*
Package predicate parses and evaluates row selection conditions such as

	((No3 < -0.5) | (No3 > 0.5)) & ((No4 < -1) | (No4 > 1))

Operands are column names, numeric literals, or quoted strings (for text
columns). Comparisons (<, >, <=, >=, ==, !=) bind tighter than the boolean
combinators, so `No3 > 0.5 & No4 > 1` means what it looks like. `~` negates,
`&` binds tighter than `|`, and parentheses group.

A parsed Predicate is bound to a set of column kinds once, then evaluated
either a batch at a time (EvalBatch, which yields a roaring bitmap of matching
offsets within the batch) or a row at a time (MatchRow). Both produce the same
answer for the same data; the batch form is what table scans use.
*/
package predicate
